package core

import (
	"context"
	"time"

	"github.com/mohammad-safakhou/sentinel/internal/capability"
)

// Phase is a task's position in the orchestration state machine.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhasePlanning     Phase = "planning"
	PhaseExecuting    Phase = "executing"
	PhaseSearching    Phase = "searching"
	PhaseScraping     Phase = "scraping"
	PhaseExpanding    Phase = "expanding"
	PhaseCritiquing   Phase = "critiquing"
	PhaseSynthesizing Phase = "synthesizing"
	PhaseRecovering   Phase = "recovering"
	PhaseCompleted    Phase = "completed"
	PhaseFailed       Phase = "failed"
)

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool { return p == PhaseCompleted || p == PhaseFailed }

// Valid reports whether p names a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseIdle, PhasePlanning, PhaseExecuting, PhaseSearching, PhaseScraping, PhaseExpanding,
		PhaseCritiquing, PhaseSynthesizing, PhaseRecovering, PhaseCompleted, PhaseFailed:
		return true
	}
	return false
}

// ThoughtStep is one immutable unit of a task's visible reasoning trace.
type ThoughtStep struct {
	ID          string        `json:"id"`
	Seq         int           `json:"seq"`
	Phase       Phase         `json:"phase"`
	Timestamp   time.Time     `json:"timestamp"`
	Thought     string        `json:"thought"`
	Action      string        `json:"action,omitempty"`
	Observation string        `json:"observation,omitempty"`
	Tokens      int64         `json:"tokens"`
	Duration    time.Duration `json:"duration"`
	Progress    int           `json:"progress"`
}

// SubTaskKind selects the capability that serves a sub-task.
type SubTaskKind string

const (
	SubTaskSearch SubTaskKind = "search"
	SubTaskScrape SubTaskKind = "scrape"
	SubTaskMemory SubTaskKind = "memory"
)

// SubTask is one unit of a plan decomposition.
type SubTask struct {
	ID          string      `json:"id"`
	Kind        SubTaskKind `json:"kind"`
	Query       string      `json:"query"`
	Description string      `json:"description,omitempty"`
	Platforms   []string    `json:"platforms,omitempty"`
	URLs        []string    `json:"urls,omitempty"`
	Since       *time.Time  `json:"since,omitempty"`
	Until       *time.Time  `json:"until,omitempty"`
	Limit       int         `json:"limit,omitempty"`
}

// TaskRecord is a point-in-time copy of a task. It is what the store persists
// and what the query surface returns.
type TaskRecord struct {
	ID            string             `json:"id"`
	Command       string             `json:"command"`
	Status        Phase              `json:"status"`
	ThoughtChain  []ThoughtStep      `json:"thought_chain"`
	SubTasks      []SubTask          `json:"sub_tasks,omitempty"`
	Keywords      []string           `json:"keywords,omitempty"`
	Items         []capability.Item  `json:"items,omitempty"`
	Credibility   map[string]float64 `json:"credibility,omitempty"`
	ResultSummary string             `json:"result_summary,omitempty"`
	TotalTokens   int64              `json:"total_tokens"`
	ErrorCount    int                `json:"error_count"`
	StepCount     int                `json:"step_count"`
	MaxSteps      int                `json:"max_steps"`
	Progress      int                `json:"progress"`
	ErrorKind     string             `json:"error_kind,omitempty"`
	ErrorMessage  string             `json:"error_message,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	StartedAt     *time.Time         `json:"started_at,omitempty"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
}

// Criteria filters a task listing.
type Criteria struct {
	Status Phase
	Limit  int
	Offset int
}

// Store persists task records outside the core.
type Store interface {
	Persist(ctx context.Context, rec TaskRecord) error
	Get(ctx context.Context, id string) (TaskRecord, error)
	Query(ctx context.Context, c Criteria) ([]TaskRecord, int, error)
}

// Indexer receives credible items of completed tasks for long-term search.
type Indexer interface {
	Index(ctx context.Context, items []capability.Item, scores map[string]float64) error
}

// Sink mirrors task events to an external transport.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}
