package streams

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestAgentSchemasValidate(t *testing.T) {
	reg := NewSchemaRegistry()
	if err := RegisterBaseSchemas(reg); err != nil {
		t.Fatalf("register base schemas: %v", err)
	}

	thought := map[string]interface{}{
		"type":     "thought",
		"task_id":  "task-1",
		"progress": 20,
		"step": map[string]interface{}{
			"seq":       3,
			"phase":     "searching",
			"thought":   "Searching zhihu",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
	data, _ := json.Marshal(thought)
	if err := reg.Validate(EventAgentThought, "v1", data); err != nil {
		t.Fatalf("expected thought payload to validate: %v", err)
	}

	complete := map[string]interface{}{"task_id": "task-1", "progress": 100, "status": "completed", "intelligence_count": 4}
	data, _ = json.Marshal(complete)
	if err := reg.Validate(EventAgentComplete, "v1", data); err != nil {
		t.Fatalf("expected complete payload to validate: %v", err)
	}

	failed := map[string]interface{}{"task_id": "task-1", "error_kind": "rate-limited", "message": "429"}
	data, _ = json.Marshal(failed)
	if err := reg.Validate(EventAgentFailed, "v1", data); err != nil {
		t.Fatalf("expected failed payload to validate: %v", err)
	}
}

func TestAgentSchemasReject(t *testing.T) {
	reg := NewSchemaRegistry()
	if err := RegisterBaseSchemas(reg); err != nil {
		t.Fatalf("register base schemas: %v", err)
	}
	cases := []struct {
		name      string
		eventType string
		payload   map[string]interface{}
	}{
		{"thought without step", EventAgentThought, map[string]interface{}{"task_id": "t", "progress": 10}},
		{"complete below 100", EventAgentComplete, map[string]interface{}{"task_id": "t", "progress": 90, "status": "completed"}},
		{"failed without kind", EventAgentFailed, map[string]interface{}{"task_id": "t", "message": "x"}},
	}
	for _, tc := range cases {
		data, _ := json.Marshal(tc.payload)
		if err := reg.Validate(tc.eventType, "v1", data); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
	if err := reg.Validate("agent.unknown", "v1", []byte(`{}`)); !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("expected ErrUnknownEventType, got %v", err)
	}
}

func TestRegistryOnlyAcceptsAgentEvents(t *testing.T) {
	reg := NewSchemaRegistry()
	if err := reg.Register("order.created", "v1", []byte(`{"type":"object"}`)); err == nil {
		t.Fatalf("expected event type outside the agent namespace to be rejected")
	}
	if err := reg.Register("agent.custom", "v1", []byte(`{"type":"object"}`)); err != nil {
		t.Fatalf("register agent.custom: %v", err)
	}
}

func TestValidateEnvelopeMatchesTask(t *testing.T) {
	reg := NewSchemaRegistry()
	if err := RegisterBaseSchemas(reg); err != nil {
		t.Fatalf("register base schemas: %v", err)
	}
	data := []byte(`{"task_id":"task-1","error_kind":"timeout","message":"deadline"}`)
	env := Envelope{EventID: "e1", EventType: EventAgentFailed, TaskID: "task-1", PayloadVersion: "v1", Data: data}
	if err := reg.ValidateEnvelope(env); err != nil {
		t.Fatalf("ValidateEnvelope: %v", err)
	}
	env.TaskID = "task-2"
	if err := reg.ValidateEnvelope(env); !errors.Is(err, ErrTaskMismatch) {
		t.Fatalf("expected ErrTaskMismatch, got %v", err)
	}
	env.TaskID = ""
	if err := env.ValidateBasic(); err == nil {
		t.Fatalf("expected envelope without task_id to be rejected")
	}
}

func TestLagStalled(t *testing.T) {
	if (LagMetrics{Pending: 0, OldestIdle: time.Hour}).Stalled(ClaimIdle) {
		t.Fatalf("nothing pending cannot be stalled")
	}
	if (LagMetrics{Pending: 2, OldestIdle: time.Second}).Stalled(ClaimIdle) {
		t.Fatalf("fresh pending events are not stalled")
	}
	if !(LagMetrics{Pending: 2, OldestIdle: 2 * ClaimIdle}).Stalled(ClaimIdle) {
		t.Fatalf("expected stalled")
	}
}
