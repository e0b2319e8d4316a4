package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/sentinel/internal/agent/core"
	"go.opentelemetry.io/otel/trace"
)

// DefaultStream is the stream task events are mirrored to.
const DefaultStream = "sentinel:agent:events"

// Sink mirrors task events into a Redis stream as schema-checked envelopes.
type Sink struct {
	pub    *Publisher
	stream string
	maxLen int64
	logger *log.Logger
}

var _ core.Sink = (*Sink)(nil)

func NewSink(pub *Publisher, stream string, maxLen int64, logger *log.Logger) *Sink {
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[STREAM] ", log.LstdFlags)
	}
	return &Sink{pub: pub, stream: stream, maxLen: maxLen, logger: logger}
}

// Publish appends ev to the stream.
func (s *Sink) Publish(ctx context.Context, ev core.Event) error {
	env, err := toEnvelope(ctx, ev)
	if err != nil {
		return err
	}
	_, err = s.pub.Publish(ctx, s.stream, env, WithMaxLenApprox(s.maxLen))
	recordPublish(ctx, env.EventType, err)
	if err != nil {
		s.logger.Printf("warn: task %s: mirror %s: %v", ev.TaskID, env.EventType, err)
	}
	return err
}

func eventTypeFor(t core.EventType) (string, error) {
	switch t {
	case core.EventThought:
		return EventAgentThought, nil
	case core.EventComplete:
		return EventAgentComplete, nil
	case core.EventFailed:
		return EventAgentFailed, nil
	}
	return "", fmt.Errorf("unknown task event type %q", t)
}

func toEnvelope(ctx context.Context, ev core.Event) (Envelope, error) {
	eventType, err := eventTypeFor(ev.Type)
	if err != nil {
		return Envelope{}, err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal event: %w", err)
	}
	env := Envelope{EventType: eventType, TaskID: ev.TaskID, PayloadVersion: "v1", Data: data}
	if ev.Step != nil {
		env.OccurredAt = ev.Step.Timestamp
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	return env, nil
}

// DecodeEvent recovers the task event carried by an envelope.
func DecodeEvent(env Envelope) (core.Event, error) {
	var ev core.Event
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return core.Event{}, fmt.Errorf("decode %s: %w", env.EventType, err)
	}
	return ev, nil
}
