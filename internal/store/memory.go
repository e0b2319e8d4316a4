package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mohammad-safakhou/sentinel/internal/agent/core"
)

// Memory keeps records in process. Used when no database is configured.
type Memory struct {
	mu      sync.RWMutex
	records map[string]core.TaskRecord
}

var _ core.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{records: make(map[string]core.TaskRecord)}
}

func (m *Memory) Persist(_ context.Context, rec core.TaskRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("task id is required")
	}
	m.mu.Lock()
	m.records[rec.ID] = rec
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (core.TaskRecord, error) {
	m.mu.RLock()
	rec, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return core.TaskRecord{}, fmt.Errorf("%w: %s", core.ErrTaskNotFound, id)
	}
	return rec, nil
}

func (m *Memory) Query(_ context.Context, c core.Criteria) ([]core.TaskRecord, int, error) {
	if c.Limit <= 0 {
		c.Limit = 20
	}
	m.mu.RLock()
	matched := make([]core.TaskRecord, 0, len(m.records))
	for _, rec := range m.records {
		if c.Status != "" && rec.Status != c.Status {
			continue
		}
		matched = append(matched, rec)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	if c.Offset >= total {
		return []core.TaskRecord{}, total, nil
	}
	end := c.Offset + c.Limit
	if end > total {
		end = total
	}
	return matched[c.Offset:end], total, nil
}
