package core

import (
	"context"
	"testing"
	"time"
)

func TestStreamReplaysThenFollows(t *testing.T) {
	s := newStream()
	s.append(Event{Type: EventThought, TaskID: "1"})
	ch := s.subscribe(context.Background(), 1)

	s.append(Event{Type: EventThought, TaskID: "2"})
	s.append(Event{Type: EventComplete, TaskID: "3"})
	s.append(Event{Type: EventThought, TaskID: "ignored"})

	var got []string
	for ev := range ch {
		got = append(got, ev.TaskID)
	}
	if len(got) != 3 || got[0] != "1" || got[2] != "3" {
		t.Fatalf("got %v", got)
	}
}

func TestStreamSubscriberDetaches(t *testing.T) {
	s := newStream()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.subscribe(ctx, 1)
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event")
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber not released")
	}
	// producer keeps going without readers
	for i := 0; i < 100; i++ {
		s.append(Event{Type: EventThought})
	}
}
