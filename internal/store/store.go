// Package store persists finished task records.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/lib/pq"
	"github.com/mohammad-safakhou/sentinel/internal/agent/core"
	"github.com/mohammad-safakhou/sentinel/internal/capability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Store is the Postgres task store.
type Store struct {
	DB *sql.DB
}

var _ core.Store = (*Store)(nil)

var (
	metricsOnce    sync.Once
	persistCounter otelmetric.Int64Counter
	tokenCounter   otelmetric.Int64Counter
)

func initStoreMetrics() {
	meter := otel.Meter("store")
	persistCounter, _ = meter.Int64Counter("agent_tasks_persisted_total")
	tokenCounter, _ = meter.Int64Counter("agent_task_tokens_total")
}

// NewWithDSN opens and pings a Postgres database.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error { return s.DB.Close() }

const upsertTask = `
INSERT INTO agent_tasks (id, command, status, thought_chain, sub_tasks, keywords, items, credibility, result_summary,
  total_tokens, error_count, step_count, max_steps, progress, error_kind, error_message, created_at, started_at, completed_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,NOW())
ON CONFLICT (id) DO UPDATE SET
  status         = EXCLUDED.status,
  thought_chain  = EXCLUDED.thought_chain,
  sub_tasks      = EXCLUDED.sub_tasks,
  keywords       = EXCLUDED.keywords,
  items          = EXCLUDED.items,
  credibility    = EXCLUDED.credibility,
  result_summary = EXCLUDED.result_summary,
  total_tokens   = EXCLUDED.total_tokens,
  error_count    = EXCLUDED.error_count,
  step_count     = EXCLUDED.step_count,
  max_steps      = EXCLUDED.max_steps,
  progress       = EXCLUDED.progress,
  error_kind     = EXCLUDED.error_kind,
  error_message  = EXCLUDED.error_message,
  started_at     = EXCLUDED.started_at,
  completed_at   = EXCLUDED.completed_at,
  updated_at     = NOW();
`

// Persist upserts the full record.
func (s *Store) Persist(ctx context.Context, rec core.TaskRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("task id is required")
	}
	chain, err := json.Marshal(nonNil(rec.ThoughtChain))
	if err != nil {
		return fmt.Errorf("marshal thought chain: %w", err)
	}
	subtasks, err := json.Marshal(nonNil(rec.SubTasks))
	if err != nil {
		return fmt.Errorf("marshal sub-tasks: %w", err)
	}
	items, err := json.Marshal(nonNil(rec.Items))
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	cred := rec.Credibility
	if cred == nil {
		cred = map[string]float64{}
	}
	credJSON, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credibility: %w", err)
	}
	keywords := rec.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	_, err = s.DB.ExecContext(ctx, upsertTask,
		rec.ID, rec.Command, string(rec.Status), chain, subtasks, pq.Array(keywords), items, credJSON, rec.ResultSummary,
		rec.TotalTokens, rec.ErrorCount, rec.StepCount, rec.MaxSteps, rec.Progress, rec.ErrorKind, rec.ErrorMessage,
		rec.CreatedAt, rec.StartedAt, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("persist task %s: %w", rec.ID, err)
	}
	metricsOnce.Do(initStoreMetrics)
	attrs := otelmetric.WithAttributes(attribute.String("status", string(rec.Status)))
	if persistCounter != nil {
		persistCounter.Add(ctx, 1, attrs)
	}
	if tokenCounter != nil && rec.TotalTokens > 0 {
		tokenCounter.Add(ctx, rec.TotalTokens, attrs)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

const selectTask = `
SELECT id, command, status, thought_chain, sub_tasks, keywords, items, credibility, result_summary,
  total_tokens, error_count, step_count, max_steps, progress, error_kind, error_message, created_at, started_at, completed_at
FROM agent_tasks`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (core.TaskRecord, error) {
	var (
		rec                              core.TaskRecord
		status                           string
		chain, subtasks, items, credJSON []byte
		startedAt, completedAt           sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.Command, &status, &chain, &subtasks, pq.Array(&rec.Keywords), &items, &credJSON, &rec.ResultSummary,
		&rec.TotalTokens, &rec.ErrorCount, &rec.StepCount, &rec.MaxSteps, &rec.Progress, &rec.ErrorKind, &rec.ErrorMessage,
		&rec.CreatedAt, &startedAt, &completedAt); err != nil {
		return core.TaskRecord{}, err
	}
	rec.Status = core.Phase(status)
	if err := unmarshalAll(
		field{"thought_chain", chain, &rec.ThoughtChain},
		field{"sub_tasks", subtasks, &rec.SubTasks},
		field{"items", items, &rec.Items},
		field{"credibility", credJSON, &rec.Credibility},
	); err != nil {
		return core.TaskRecord{}, err
	}
	if rec.Items == nil {
		rec.Items = []capability.Item{}
	}
	if startedAt.Valid {
		t := startedAt.Time
		rec.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	return rec, nil
}

type field struct {
	name string
	raw  []byte
	out  any
}

func unmarshalAll(fields ...field) error {
	for _, f := range fields {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.out); err != nil {
			return fmt.Errorf("decode %s: %w", f.name, err)
		}
	}
	return nil
}

// Get loads one record.
func (s *Store) Get(ctx context.Context, id string) (core.TaskRecord, error) {
	rec, err := scanTask(s.DB.QueryRowContext(ctx, selectTask+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.TaskRecord{}, fmt.Errorf("%w: %s", core.ErrTaskNotFound, id)
	}
	return rec, err
}

// Query pages through records newest first and returns the total match count.
func (s *Store) Query(ctx context.Context, c core.Criteria) ([]core.TaskRecord, int, error) {
	if c.Limit <= 0 {
		c.Limit = 20
	}
	status := string(c.Status)
	var total int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM agent_tasks WHERE ($1 = '' OR status = $1)`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.DB.QueryContext(ctx, selectTask+`
WHERE ($1 = '' OR status = $1)
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, status, c.Limit, c.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []core.TaskRecord{}
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}
