package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/sentinel/internal/agent/core"
	"github.com/mohammad-safakhou/sentinel/internal/capability"
)

type stubOrch struct {
	submitted []string
	opts      []core.SubmitOptions
	events    []core.Event
	records   map[string]core.TaskRecord
	cancelErr error
	criteria  core.Criteria
}

func (s *stubOrch) Submit(_ context.Context, command string, opts core.SubmitOptions) (string, error) {
	s.submitted = append(s.submitted, command)
	s.opts = append(s.opts, opts)
	return fmt.Sprintf("task-%d", len(s.submitted)), nil
}

func (s *stubOrch) Subscribe(_ context.Context, id string) (<-chan core.Event, error) {
	if _, ok := s.records[id]; !ok && !strings.HasPrefix(id, "task-") {
		return nil, fmt.Errorf("%w: %s", core.ErrTaskNotFound, id)
	}
	ch := make(chan core.Event, len(s.events))
	for _, ev := range s.events {
		ev.TaskID = id
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (s *stubOrch) CancelTask(id string) error { return s.cancelErr }

func (s *stubOrch) GetTask(_ context.Context, id string) (core.TaskRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return core.TaskRecord{}, fmt.Errorf("%w: %s", core.ErrTaskNotFound, id)
	}
	return rec, nil
}

func (s *stubOrch) ListTasks(_ context.Context, c core.Criteria) ([]core.TaskRecord, int, error) {
	s.criteria = c
	var out []core.TaskRecord
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, len(out), nil
}

func step(seq int, phase core.Phase, thought string) core.Event {
	return core.Event{Type: core.EventThought, Progress: seq * 10, Step: &core.ThoughtStep{Seq: seq, Phase: phase, Thought: thought, Timestamp: time.Now()}}
}

func newTestServer(orch Orchestrator, reg *capability.Registry) http.Handler {
	return New(orch, reg, WithLogger(log.New(io.Discard, "", 0))).Handler()
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type sseFrame struct {
	id, event, data string
}

func parseSSE(t *testing.T, body string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var f sseFrame
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "id: "):
				f.id = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "event: "):
				f.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				f.data = strings.TrimPrefix(line, "data: ")
			}
		}
		if f.event != "" {
			frames = append(frames, f)
		}
	}
	return frames
}

func TestExecuteStreamsUntilTerminal(t *testing.T) {
	orch := &stubOrch{events: []core.Event{
		step(1, core.PhasePlanning, "Received command"),
		step(2, core.PhaseExecuting, "Executing 1 sub-tasks"),
		{Type: core.EventComplete, Progress: 100, Status: core.PhaseCompleted, ItemCount: 3},
		step(9, core.PhaseCompleted, "never sent"),
	}}
	h := newTestServer(orch, nil)

	rec := do(h, http.MethodPost, "/api/agent/execute", `{"command":"Monitor EV recalls","max_steps":4,"platforms":[" Zhihu "]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames := parseSSE(t, rec.Body.String())
	require.Len(t, frames, 3)
	assert.Equal(t, []string{"thought", "thought", "complete"}, []string{frames[0].event, frames[1].event, frames[2].event})
	assert.Equal(t, "1", frames[0].id)
	assert.Equal(t, "2", frames[1].id)

	var done core.Event
	require.NoError(t, json.Unmarshal([]byte(frames[2].data), &done))
	assert.Equal(t, "task-1", done.TaskID)
	assert.Equal(t, 3, done.ItemCount)

	require.Len(t, orch.opts, 1)
	assert.Equal(t, 4, orch.opts[0].MaxSteps)
	assert.Equal(t, []string{"zhihu"}, orch.opts[0].Platforms)
}

func TestExecuteRejectsBadRequests(t *testing.T) {
	h := newTestServer(&stubOrch{}, nil)
	cases := map[string]string{
		"blank command":  `{"command":"  "}`,
		"negative steps": `{"command":"x","max_steps":-1}`,
		"inverted range": `{"command":"x","since":"2026-02-02T00:00:00Z","until":"2026-02-01T00:00:00Z"}`,
		"malformed":      `{"command":`,
	}
	for name, body := range cases {
		rec := do(h, http.MethodPost, "/api/agent/execute", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
		var payload map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil || payload["error"] == "" {
			t.Fatalf("%s: expected JSON error body, got %q", name, rec.Body.String())
		}
	}
}

func TestSubmitReturnsAccepted(t *testing.T) {
	orch := &stubOrch{}
	h := newTestServer(orch, nil)
	rec := do(h, http.MethodPost, "/api/agent/tasks", `{"command":"track BYD","timeout_seconds":30}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "/api/agent/tasks/task-1", rec.Header().Get("Location"))
	assert.Equal(t, 30*time.Second, orch.opts[0].Timeout)
}

func TestTaskLookupAndCancelErrors(t *testing.T) {
	orch := &stubOrch{records: map[string]core.TaskRecord{"known": {ID: "known", Status: core.PhaseCompleted}}}
	h := newTestServer(orch, nil)

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/agent/tasks/known", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/agent/tasks/missing", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/agent/tasks/missing/events", "").Code)

	assert.Equal(t, http.StatusAccepted, do(h, http.MethodPost, "/api/agent/tasks/known/cancel", "").Code)
	orch.cancelErr = fmt.Errorf("%w: known", core.ErrTaskFinished)
	assert.Equal(t, http.StatusConflict, do(h, http.MethodPost, "/api/agent/tasks/known/cancel", "").Code)
	orch.cancelErr = fmt.Errorf("%w: nope", core.ErrTaskNotFound)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodPost, "/api/agent/tasks/nope/cancel", "").Code)
}

func TestListValidatesAndCapsPaging(t *testing.T) {
	orch := &stubOrch{records: map[string]core.TaskRecord{"a": {ID: "a", Status: core.PhaseFailed, Items: []capability.Item{{Source: "x", ID: "1"}}}}}
	h := newTestServer(orch, nil)

	rec := do(h, http.MethodGet, "/api/agent/tasks?limit=500&offset=3&status=Failed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.Criteria{Status: core.PhaseFailed, Limit: 100, Offset: 3}, orch.criteria)

	var page listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Tasks, 1)
	assert.Equal(t, 1, page.Tasks[0].ItemCount)

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/agent/tasks?status=sleeping", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/agent/tasks?limit=-2", "").Code)
}

type cardOnly struct{ name string }

func (c cardOnly) Describe() capability.Descriptor {
	return capability.Descriptor{Name: c.name, Version: "1", Description: "test"}
}

func (c cardOnly) Execute(context.Context, capability.Arguments) (capability.Output, error) {
	return capability.Output{}, nil
}

func TestCapabilitiesAndHealth(t *testing.T) {
	reg, err := capability.NewRegistry(cardOnly{name: "platform_search"}, cardOnly{name: "sentiment"})
	require.NoError(t, err)
	h := newTestServer(&stubOrch{}, reg)

	rec := do(h, http.MethodGet, "/api/agent/capabilities", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cards []capability.Descriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cards))
	assert.Len(t, cards, 2)

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/openapi.yaml", "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/metrics", "").Code)
}
