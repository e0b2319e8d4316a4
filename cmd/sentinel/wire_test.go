package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/sentinel/config"
	"github.com/mohammad-safakhou/sentinel/internal/agent/core"
	"github.com/mohammad-safakhou/sentinel/internal/tools"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	return cfg
}

func TestProvidersPerPlatform(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sources.Endpoints = map[string]config.ProviderConfig{"douyin": {Endpoint: "http://crawler"}}
	got := providers(cfg, tools.NewHTTPClient(time.Second, nil))

	assert.IsType(t, tools.SerperProvider{}, got["zhihu"])
	assert.IsType(t, tools.NewsAPIProvider{}, got["news"])
	assert.IsType(t, tools.EndpointProvider{}, got["douyin"])

	cfg.Sources.Engine = "brave"
	got = providers(cfg, tools.NewHTTPClient(time.Second, nil))
	assert.IsType(t, tools.BraveProvider{}, got["wechat"])
}

func TestResourceClassesCoverPlatforms(t *testing.T) {
	classes := resourceClasses(testConfig(t))
	assert.Contains(t, classes, "platform:zhihu")
	assert.Contains(t, classes, "fetch:wechat")
	assert.Contains(t, classes, "platform:news")
	assert.Contains(t, classes, "fetch:web")
	seen := map[string]bool{}
	for _, c := range classes {
		require.False(t, seen[c], "duplicate class %s", c)
		seen[c] = true
	}
}

func TestBuildInMemory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sources.Priors = map[string]float64{"zhihu": 0.9}

	a, err := build(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	names := make([]string, 0)
	for _, d := range a.registry.Descriptors() {
		names = append(names, d.Name)
	}
	assert.ElementsMatch(t, []string{core.CapPlatformSearch, core.CapFetchDetail, core.CapSentiment, core.CapTimelineQuery}, names)

	_, total, err := a.orch.ListTasks(context.Background(), core.Criteria{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestPrintEvent(t *testing.T) {
	var buf bytes.Buffer
	printEvent(&buf, core.Event{Type: core.EventThought, Progress: 40, Step: &core.ThoughtStep{Seq: 3, Phase: core.PhaseSearching, Thought: "Searching zhihu", Observation: "4 items"}})
	printEvent(&buf, core.Event{Type: core.EventFailed, ErrorKind: "timeout", Message: "budget exhausted"})
	out := buf.String()
	assert.Contains(t, out, "#3 searching")
	assert.Contains(t, out, "-> 4 items")
	assert.True(t, strings.HasSuffix(out, "failed (timeout): budget exhausted\n"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
