package core

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/sentinel/internal/capability"
	"github.com/mohammad-safakhou/sentinel/internal/recovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func observations(steps []ThoughtStep) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.Observation)
	}
	return out
}

func TestRecoveryCapsCountedPerKind(t *testing.T) {
	search := &searchStub{respond: func(_ string, call int) (capability.Output, error) {
		switch call {
		case 1, 2:
			return capability.Output{}, errors.New("request timed out")
		case 3:
			return capability.Output{}, errors.New("403 forbidden")
		}
		return capability.Output{Items: []capability.Item{item("news", "n1", "a sufficiently long piece of reporting on x from a wire service")}}, nil
	}}
	rot := &countingRotator{}
	f := newFixtureWith(t, &scriptedModel{plan: planJSON("x")}, search, Config{}, []capability.InvokerOption{capability.WithSubstituter(rot)})

	id, events := f.drain(t, "Monitor X", SubmitOptions{})
	checkChain(t, events)
	require.Equal(t, EventComplete, events[len(events)-1].Type)
	assert.Len(t, search.queries(), 4)
	assert.Equal(t, []string{"search"}, rot.rotated())

	obs := strings.Join(observations(thoughts(events)), "\n")
	assert.Contains(t, obs, "retried after timeout, attempt 2 of 3")
	assert.Contains(t, obs, "retried after timeout, attempt 3 of 3")
	assert.Contains(t, obs, "retried after blocked with substituted resource, attempt 2 of 2")

	rec, err := f.orch.GetTask(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.ErrorCount)
	assert.Len(t, rec.Items, 1)
}

func TestChallengeSubstitutesOnceAlertsThenAborts(t *testing.T) {
	search := &searchStub{respond: func(string, int) (capability.Output, error) {
		return capability.Output{}, errors.New("captcha verification required")
	}}
	rot := &countingRotator{}
	var alerts bytes.Buffer
	f := newFixtureWith(t, &scriptedModel{plan: planJSON("x")}, search, Config{},
		[]capability.InvokerOption{capability.WithSubstituter(rot)},
		WithAlertLogger(log.New(&alerts, "[ALERT] ", 0)))

	id, events := f.drain(t, "Monitor X", SubmitOptions{})
	checkChain(t, events)

	last := events[len(events)-1]
	require.Equal(t, EventFailed, last.Type)
	assert.Equal(t, string(recovery.KindChallenge), last.ErrorKind)
	assert.Len(t, search.queries(), 2)
	assert.Equal(t, []string{"search"}, rot.rotated())

	assert.Equal(t, 1, strings.Count(alerts.String(), "[ALERT] "))
	assert.Contains(t, alerts.String(), "hit challenge")
	assert.Contains(t, alerts.String(), id)

	obs := strings.Join(observations(thoughts(events)), "\n")
	assert.Contains(t, obs, "with substituted resource, attempt 2 of 2, operator alerted")
}

func TestTimeRangeDropsItemsOutsideWindow(t *testing.T) {
	now := time.Now()
	old, recent := now.Add(-48*time.Hour), now.Add(-time.Hour)
	search := &searchStub{respond: func(string, int) (capability.Output, error) {
		stale := item("zhihu", "stale", "a post from two days ago")
		stale.PublishedAt = &old
		fresh := item("zhihu", "fresh", "a post from an hour ago")
		fresh.PublishedAt = &recent
		return capability.Output{Items: []capability.Item{stale, fresh, item("zhihu", "undated", "a post without a timestamp")}}, nil
	}}
	f := newFixture(t, &scriptedModel{plan: planJSON("x")}, search, Config{})

	since := now.Add(-24 * time.Hour)
	id, events := f.drain(t, "Monitor X", SubmitOptions{Since: &since})
	checkChain(t, events)
	require.Equal(t, EventComplete, events[len(events)-1].Type)

	var searchStep *ThoughtStep
	steps := thoughts(events)
	for i := range steps {
		if steps[i].Action == "search" {
			searchStep = &steps[i]
			break
		}
	}
	require.NotNil(t, searchStep)
	assert.Contains(t, searchStep.Observation, "2 items (2 new), 1 outside time range")

	rec, err := f.orch.GetTask(context.Background(), id)
	require.NoError(t, err)
	keys := make([]string, 0, len(rec.Items))
	for _, it := range rec.Items {
		keys = append(keys, it.Key())
	}
	assert.ElementsMatch(t, []string{"zhihu:fresh", "zhihu:undated"}, keys)
}
