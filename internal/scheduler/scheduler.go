// Package scheduler submits recurring monitor commands on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/sentinel/internal/agent/core"
)

// Monitor is a command that runs on a schedule. Cron accepts standard
// expressions plus @hourly and @daily.
type Monitor struct {
	Name      string        `mapstructure:"name" json:"name"`
	Command   string        `mapstructure:"command" json:"command"`
	Cron      string        `mapstructure:"cron" json:"cron"`
	Platforms []string      `mapstructure:"platforms" json:"platforms,omitempty"`
	MaxSteps  int           `mapstructure:"max_steps" json:"max_steps,omitempty"`
	Lookback  time.Duration `mapstructure:"lookback" json:"lookback,omitempty"`
}

// Submitter starts a task. *core.Orchestrator satisfies it.
type Submitter interface {
	Submit(ctx context.Context, command string, opts core.SubmitOptions) (string, error)
}

// Locker grants a run slot to one instance.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisLocker takes slots with SETNX. Keys are left to expire so a second
// instance ticking later in the same slot still sees the lock.
type RedisLocker struct {
	Client *redis.Client
	Prefix string
}

func (l RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	prefix := l.Prefix
	if prefix == "" {
		prefix = "sentinel:sched:lock:"
	}
	return l.Client.SetNX(ctx, prefix+key, "1", ttl).Result()
}

type entry struct {
	Monitor
	expr *cronexpr.Expression
	last time.Time
}

type Scheduler struct {
	sub      Submitter
	locker   Locker
	logger   *log.Logger
	now      func() time.Time
	interval time.Duration
	lockTTL  time.Duration

	mu      sync.Mutex
	entries []*entry
}

type Option func(*Scheduler)

func WithLocker(l Locker) Option            { return func(s *Scheduler) { s.locker = l } }
func WithLogger(l *log.Logger) Option       { return func(s *Scheduler) { s.logger = l } }
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// WithInterval sets how often schedules are checked.
func WithInterval(d time.Duration) Option { return func(s *Scheduler) { s.interval = d } }

// New validates every monitor. Schedules are measured from construction, so
// nothing fires until its first cron instant after startup.
func New(sub Submitter, monitors []Monitor, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{sub: sub, now: time.Now, interval: 30 * time.Second, lockTTL: 10 * time.Minute}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	start := s.now()
	for i, m := range monitors {
		m.Command = strings.TrimSpace(m.Command)
		if m.Command == "" {
			return nil, fmt.Errorf("monitor %d: command is required", i)
		}
		if m.Name == "" {
			m.Name = fmt.Sprintf("monitor-%d", i+1)
		}
		expr, err := parse(m.Cron)
		if err != nil {
			return nil, fmt.Errorf("monitor %s: %w", m.Name, err)
		}
		s.entries = append(s.entries, &entry{Monitor: m, expr: expr, last: start})
	}
	return s, nil
}

func parse(spec string) (*cronexpr.Expression, error) {
	switch strings.TrimSpace(spec) {
	case "":
		return nil, fmt.Errorf("cron expression is required")
	case "@hourly":
		spec = "0 * * * *"
	case "@daily":
		spec = "0 0 * * *"
	}
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", spec, err)
	}
	return expr, nil
}

// Run checks schedules every interval until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.entries) == 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick submits every monitor whose next cron instant has passed and returns
// the ids of the tasks it started.
func (s *Scheduler) Tick(ctx context.Context) []string {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var started []string
	for _, e := range s.entries {
		slot := e.expr.Next(e.last)
		if slot.IsZero() || slot.After(now) {
			continue
		}
		e.last = now
		if s.locker != nil {
			key := fmt.Sprintf("%s:%d", e.Name, slot.Unix())
			ok, err := s.locker.Acquire(ctx, key, s.lockTTL)
			if err != nil {
				s.logger.Printf("warn: monitor %s: lock: %v", e.Name, err)
				continue
			}
			if !ok {
				continue
			}
		}
		opts := core.SubmitOptions{MaxSteps: e.MaxSteps, Platforms: e.Platforms}
		if e.Lookback > 0 {
			since := now.Add(-e.Lookback)
			opts.Since = &since
		}
		id, err := s.sub.Submit(ctx, e.Command, opts)
		if err != nil {
			s.logger.Printf("warn: monitor %s: submit: %v", e.Name, err)
			continue
		}
		s.logger.Printf("monitor %s fired for slot %s, task %s", e.Name, slot.Format(time.RFC3339), id)
		started = append(started, id)
	}
	return started
}
