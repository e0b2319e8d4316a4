package scheduler

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/mohammad-safakhou/sentinel/internal/agent/core"
)

func TestMain(m *testing.M) { goleak.VerifyTestMain(m) }

type fakeSubmitter struct {
	mu       sync.Mutex
	commands []string
	opts     []core.SubmitOptions
	err      error
}

func (f *fakeSubmitter) Submit(_ context.Context, command string, opts core.SubmitOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.commands = append(f.commands, command)
	f.opts = append(f.opts, opts)
	return "task-" + command, nil
}

type memLocker struct{ held map[string]bool }

func (l *memLocker) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

var quiet = log.New(io.Discard, "", 0)

func TestNewRejectsBadMonitors(t *testing.T) {
	if _, err := New(&fakeSubmitter{}, []Monitor{{Command: "watch", Cron: "not a cron"}}, WithLogger(quiet)); err == nil {
		t.Fatalf("expected cron parse error")
	}
	if _, err := New(&fakeSubmitter{}, []Monitor{{Command: "  ", Cron: "@hourly"}}, WithLogger(quiet)); err == nil {
		t.Fatalf("expected error for blank command")
	}
}

func TestTickFiresOncePerSlot(t *testing.T) {
	c := &clock{t: time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)}
	sub := &fakeSubmitter{}
	s, err := New(sub, []Monitor{{Name: "ev", Command: "Monitor EV recalls", Cron: "@hourly", Platforms: []string{"zhihu"}, Lookback: 2 * time.Hour}},
		WithClock(c.now), WithLogger(quiet))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := s.Tick(context.Background()); len(got) != 0 {
		t.Fatalf("nothing should fire before the first slot, got %v", got)
	}
	c.t = time.Date(2026, 5, 1, 10, 0, 5, 0, time.UTC)
	if got := s.Tick(context.Background()); len(got) != 1 {
		t.Fatalf("expected one task at 10:00, got %v", got)
	}
	c.t = c.t.Add(20 * time.Minute)
	if got := s.Tick(context.Background()); len(got) != 0 {
		t.Fatalf("slot already served, got %v", got)
	}
	if len(sub.opts) != 1 || sub.opts[0].Since == nil || sub.opts[0].Platforms[0] != "zhihu" {
		t.Fatalf("unexpected submit options: %+v", sub.opts)
	}
	if want := time.Date(2026, 5, 1, 8, 0, 5, 0, time.UTC); !sub.opts[0].Since.Equal(want) {
		t.Fatalf("lookback start = %s, want %s", sub.opts[0].Since, want)
	}
}

func TestLockerSharesSlotAcrossInstances(t *testing.T) {
	c := &clock{t: time.Date(2026, 5, 1, 9, 59, 0, 0, time.UTC)}
	locker := &memLocker{held: map[string]bool{}}
	monitors := []Monitor{{Name: "ev", Command: "Monitor EV recalls", Cron: "0 * * * *"}}
	subA, subB := &fakeSubmitter{}, &fakeSubmitter{}
	a, _ := New(subA, monitors, WithClock(c.now), WithLocker(locker), WithLogger(quiet))
	b, _ := New(subB, monitors, WithClock(c.now), WithLocker(locker), WithLogger(quiet))

	c.t = time.Date(2026, 5, 1, 10, 0, 1, 0, time.UTC)
	a.Tick(context.Background())
	b.Tick(context.Background())
	if len(subA.commands)+len(subB.commands) != 1 {
		t.Fatalf("expected exactly one submission across instances, got %d and %d", len(subA.commands), len(subB.commands))
	}
}

func TestSubmitErrorIsLogged(t *testing.T) {
	c := &clock{t: time.Date(2026, 5, 1, 9, 59, 0, 0, time.UTC)}
	sub := &fakeSubmitter{err: errors.New("orchestrator closed")}
	s, _ := New(sub, []Monitor{{Command: "watch", Cron: "@hourly"}}, WithClock(c.now), WithLogger(quiet))
	c.t = c.t.Add(2 * time.Minute)
	if got := s.Tick(context.Background()); len(got) != 0 {
		t.Fatalf("failed submissions should not be reported, got %v", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s, err := New(&fakeSubmitter{}, []Monitor{{Command: "watch", Cron: "@daily"}}, WithInterval(5*time.Millisecond), WithLogger(quiet))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}
