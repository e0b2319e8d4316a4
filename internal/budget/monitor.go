package budget

import (
	"fmt"
	"sync"
	"time"
)

// Monitor tracks one task's usage against its limits.
type Monitor struct {
	config     Config
	steps      int
	tokensUsed int64
	startTime  time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewMonitor clones cfg and starts the clock. A zero MaxSteps uses DefaultMaxSteps.
func NewMonitor(cfg Config) *Monitor {
	cfg = cfg.Clone()
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	m := &Monitor{config: cfg, now: time.Now}
	m.startTime = m.now()
	return m
}

// Reserve claims one loop iteration. It fails without claiming once the step
// or token limit has been reached.
func (m *Monitor) Reserve() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.steps >= m.config.MaxSteps {
		return ErrExceeded{
			Kind:  KindSteps,
			Usage: fmt.Sprintf("%d steps", m.steps),
			Limit: fmt.Sprintf("%d steps", m.config.MaxSteps),
		}
	}
	if m.config.MaxTokens != nil && m.tokensUsed >= *m.config.MaxTokens {
		return ErrExceeded{
			Kind:  KindTokens,
			Usage: fmt.Sprintf("%d tokens", m.tokensUsed),
			Limit: fmt.Sprintf("%d tokens", *m.config.MaxTokens),
		}
	}
	m.steps++
	return nil
}

// AddTokens records model usage.
func (m *Monitor) AddTokens(tokens int64) {
	m.mu.Lock()
	m.tokensUsed += tokens
	m.mu.Unlock()
}

// CheckTime verifies elapsed time against the wall-clock budget.
func (m *Monitor) CheckTime() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config.Timeout <= 0 {
		return nil
	}
	elapsed := m.now().Sub(m.startTime)
	if elapsed > m.config.Timeout {
		return ErrExceeded{
			Kind:  KindTime,
			Usage: elapsed.Round(time.Millisecond).String(),
			Limit: m.config.Timeout.String(),
		}
	}
	return nil
}

// Deadline returns the wall-clock deadline, if any.
func (m *Monitor) Deadline() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config.Timeout <= 0 {
		return time.Time{}, false
	}
	return m.startTime.Add(m.config.Timeout), true
}

// Usage returns the accumulated counters.
func (m *Monitor) Usage() (steps int, tokens int64, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.steps, m.tokensUsed, m.now().Sub(m.startTime)
}

// Config returns a clone of the underlying budget config.
func (m *Monitor) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config.Clone()
}
