package core

import (
	"context"
	"sync"
)

// EventType tags a streamed event.
type EventType string

const (
	EventThought  EventType = "thought"
	EventComplete EventType = "complete"
	EventFailed   EventType = "failed"
)

// Event is one element of a task's live stream: thought events in chain
// order followed by exactly one terminal event.
type Event struct {
	Type        EventType    `json:"type"`
	TaskID      string       `json:"task_id"`
	Step        *ThoughtStep `json:"step,omitempty"`
	Progress    int          `json:"progress"`
	ItemCount   int          `json:"intelligence_count,omitempty"`
	TotalTokens int64        `json:"total_tokens,omitempty"`
	Status      Phase        `json:"status,omitempty"`
	ErrorKind   string       `json:"error_kind,omitempty"`
	Message     string       `json:"message,omitempty"`
}

// Terminal reports whether ev closes the stream.
func (ev Event) Terminal() bool { return ev.Type == EventComplete || ev.Type == EventFailed }

// stream is the append-only event log of one task. The producer never blocks;
// each subscriber drains the log at its own pace through a bounded channel.
type stream struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
	closed bool
}

func newStream() *stream {
	return &stream{notify: make(chan struct{})}
}

func (s *stream) append(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events = append(s.events, ev)
	if ev.Terminal() {
		s.closed = true
	}
	close(s.notify)
	s.notify = make(chan struct{})
}

// subscribe replays every event so far and then follows live ones. The
// channel closes after the terminal event or when ctx ends.
func (s *stream) subscribe(ctx context.Context, buffer int) <-chan Event {
	if buffer < 1 {
		buffer = 1
	}
	out := make(chan Event, buffer)
	go func() {
		defer close(out)
		next := 0
		for {
			s.mu.Lock()
			batch := s.events[next:len(s.events):len(s.events)]
			closed := s.closed
			wait := s.notify
			s.mu.Unlock()

			for _, ev := range batch {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
			next += len(batch)
			if closed {
				return
			}
			select {
			case <-wait:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
