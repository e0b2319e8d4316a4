package core

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mohammad-safakhou/sentinel/internal/capability"
)

// Task is the live execution record of one command. Only the task's own run
// mutates it; readers go through Record.
type Task struct {
	mu sync.RWMutex

	id        string
	command   string
	phase     Phase
	prior     Phase
	steps     []ThoughtStep
	subtasks  []SubTask
	keywords  *KeywordQueue
	items     map[string]capability.Item
	itemOrder []string
	scores    map[string]float64

	totalTokens int64
	errorCount  int
	stepCount   int
	maxSteps    int
	progress    int

	result    string
	resultSet bool
	errKind   string
	errMsg    string

	createdAt   time.Time
	startedAt   *time.Time
	completedAt *time.Time
}

func newTask(id, command string, maxSteps int, now time.Time) *Task {
	return &Task{
		id:        id,
		command:   command,
		phase:     PhaseIdle,
		keywords:  NewKeywordQueue(),
		items:     make(map[string]capability.Item),
		scores:    make(map[string]float64),
		maxSteps:  maxSteps,
		createdAt: now,
	}
}

// ID returns the task identifier.
func (t *Task) ID() string { return t.id }

// Phase returns the current phase.
func (t *Task) Phase() Phase {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.phase
}

// appendStep assigns the next sequence number and appends. The timestamp is
// clamped so the chain never goes back in time.
func (t *Task) appendStep(s ThoughtStep) ThoughtStep {
	t.mu.Lock()
	defer t.mu.Unlock()
	s.Seq = len(t.steps) + 1
	s.ID = fmt.Sprintf("%s-%04d", t.id, s.Seq)
	if n := len(t.steps); n > 0 && s.Timestamp.Before(t.steps[n-1].Timestamp) {
		s.Timestamp = t.steps[n-1].Timestamp
	}
	s.Progress = progressFor(s.Phase, t.stepCount, t.maxSteps, t.progress)
	t.progress = s.Progress
	t.steps = append(t.steps, s)
	return s
}

func (t *Task) setPhase(to Phase) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !CanTransition(t.phase, to, t.prior) {
		return transitionError(t.phase, to)
	}
	if to == PhaseRecovering {
		t.prior = t.phase
	} else if t.phase == PhaseRecovering {
		t.prior = ""
	}
	t.phase = to
	return nil
}

// priorPhase is the phase interrupted by recovering.
func (t *Task) priorPhase() Phase {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.prior
}

func (t *Task) markStarted(now time.Time) {
	t.mu.Lock()
	t.startedAt = &now
	t.mu.Unlock()
}

func (t *Task) markFinished(now time.Time) {
	t.mu.Lock()
	t.completedAt = &now
	t.mu.Unlock()
}

func (t *Task) setSubTasks(sts []SubTask) {
	t.mu.Lock()
	t.subtasks = append([]SubTask(nil), sts...)
	for _, st := range sts {
		t.keywords.MarkSeen(st.Query)
	}
	t.mu.Unlock()
}

func (t *Task) addTokens(n int64) {
	if n == 0 {
		return
	}
	t.mu.Lock()
	t.totalTokens += n
	t.mu.Unlock()
}

func (t *Task) incErrors() {
	t.mu.Lock()
	t.errorCount++
	t.mu.Unlock()
}

func (t *Task) incSteps() {
	t.mu.Lock()
	t.stepCount++
	t.mu.Unlock()
}

// mergeItems inserts items keyed by source and id. Rediscovered items replace
// the stored copy without changing order. It returns how many keys were new.
func (t *Task) mergeItems(items []capability.Item) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	added := 0
	for _, it := range items {
		k := it.Key()
		if _, ok := t.items[k]; !ok {
			t.itemOrder = append(t.itemOrder, k)
			added++
		}
		t.items[k] = it
	}
	return added
}

func (t *Task) itemsSnapshot() []capability.Item {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]capability.Item, 0, len(t.itemOrder))
	for _, k := range t.itemOrder {
		out = append(out, t.items[k])
	}
	return out
}

func (t *Task) itemCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// setScores overwrites scores for the given keys; rescoring keeps the latest value.
func (t *Task) setScores(scores map[string]float64) {
	t.mu.Lock()
	for k, v := range scores {
		t.scores[k] = v
	}
	t.mu.Unlock()
}

func (t *Task) scoresSnapshot() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]float64, len(t.scores))
	for k, v := range t.scores {
		out[k] = v
	}
	return out
}

// setResult stores the summary once; later calls are ignored.
func (t *Task) setResult(summary string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resultSet {
		return false
	}
	t.result = summary
	t.resultSet = true
	return true
}

func (t *Task) setFailure(kind, msg string) {
	t.mu.Lock()
	t.errKind = kind
	t.errMsg = msg
	t.mu.Unlock()
}

// pushKeywords queues unseen keywords and returns those accepted.
func (t *Task) pushKeywords(kws []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var added []string
	for _, kw := range kws {
		if t.keywords.Push(kw) {
			added = append(added, kw)
		}
	}
	return added
}

func (t *Task) popKeyword() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.keywords.Pop()
}

func (t *Task) pendingKeywords() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.keywords.Len()
}

func (t *Task) totals() (tokens int64, items int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalTokens, len(t.items)
}

// Record returns a deep copy of the task.
func (t *Task) Record() TaskRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec := TaskRecord{
		ID:            t.id,
		Command:       t.command,
		Status:        t.phase,
		ThoughtChain:  append([]ThoughtStep(nil), t.steps...),
		SubTasks:      append([]SubTask(nil), t.subtasks...),
		Keywords:      t.keywords.Pending(),
		Items:         make([]capability.Item, 0, len(t.itemOrder)),
		Credibility:   make(map[string]float64, len(t.scores)),
		ResultSummary: t.result,
		TotalTokens:   t.totalTokens,
		ErrorCount:    t.errorCount,
		StepCount:     t.stepCount,
		MaxSteps:      t.maxSteps,
		Progress:      t.progress,
		ErrorKind:     t.errKind,
		ErrorMessage:  t.errMsg,
		CreatedAt:     t.createdAt,
	}
	for _, k := range t.itemOrder {
		rec.Items = append(rec.Items, t.items[k])
	}
	for k, v := range t.scores {
		rec.Credibility[k] = v
	}
	if t.startedAt != nil {
		v := *t.startedAt
		rec.StartedAt = &v
	}
	if t.completedAt != nil {
		v := *t.completedAt
		rec.CompletedAt = &v
	}
	return rec
}

// sortByScore orders items by descending credibility, stable on input order.
func sortByScore(items []capability.Item, scores map[string]float64) {
	sort.SliceStable(items, func(i, j int) bool {
		return scores[items[i].Key()] > scores[items[j].Key()]
	})
}
