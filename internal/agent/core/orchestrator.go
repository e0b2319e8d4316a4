package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/sentinel/internal/budget"
	"github.com/mohammad-safakhou/sentinel/internal/capability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var orchestratorTracer trace.Tracer = otel.Tracer("sentinel/internal/agent/orchestrator")

// Config holds orchestrator-wide defaults.
type Config struct {
	MaxSteps      int
	MaxTokens     *int64
	TaskTimeout   time.Duration
	MaxConcurrent int
	EventBuffer   int
}

// SubmitOptions override defaults for one task.
type SubmitOptions struct {
	MaxSteps  int
	Timeout   time.Duration
	Platforms []string
	Since     *time.Time
	Until     *time.Time
}

// Orchestrator owns task state machines and drives each through its phases.
// Tasks run concurrently; each task is driven by exactly one goroutine.
type Orchestrator struct {
	cfg     Config
	exec    *StepExecutor
	store   Store
	indexer Indexer
	sinks   []Sink
	logger  *log.Logger
	now     func() time.Time
	newID   func() string
	baseCtx context.Context

	mu    sync.RWMutex
	runs  map[string]*run
	order []string

	sem chan struct{}
	wg  sync.WaitGroup
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

func WithStore(s Store) Option { return func(o *Orchestrator) { o.store = s } }

func WithIndexer(i Indexer) Option { return func(o *Orchestrator) { o.indexer = i } }

func WithSink(s Sink) Option { return func(o *Orchestrator) { o.sinks = append(o.sinks, s) } }

func WithLogger(l *log.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

func WithConfig(cfg Config) Option { return func(o *Orchestrator) { o.cfg = cfg } }

// WithBaseContext sets the parent context of every task run; cancelling it
// cancels all tasks at their next check.
func WithBaseContext(ctx context.Context) Option { return func(o *Orchestrator) { o.baseCtx = ctx } }

// WithIDGenerator overrides task id generation.
func WithIDGenerator(fn func() string) Option { return func(o *Orchestrator) { o.newID = fn } }

// NewOrchestrator creates an orchestrator around exec.
func NewOrchestrator(exec *StepExecutor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		exec:    exec,
		now:     time.Now,
		newID:   uuid.NewString,
		baseCtx: context.Background(),
		runs:    make(map[string]*run),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.MaxSteps <= 0 {
		o.cfg.MaxSteps = budget.DefaultMaxSteps
	}
	if o.cfg.EventBuffer <= 0 {
		o.cfg.EventBuffer = 64
	}
	if o.cfg.MaxConcurrent > 0 {
		o.sem = make(chan struct{}, o.cfg.MaxConcurrent)
	}
	if o.logger == nil {
		o.logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	return o
}

// Submit creates a task for command and starts it in the background.
func (o *Orchestrator) Submit(ctx context.Context, command string, opts SubmitOptions) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", fmt.Errorf("%w: command is required", ErrInvalidSubmission)
	}
	if opts.MaxSteps < 0 || opts.Timeout < 0 {
		return "", fmt.Errorf("%w: max_steps and timeout cannot be negative", ErrInvalidSubmission)
	}
	bcfg := budget.Merge(budget.Config{MaxSteps: o.cfg.MaxSteps, MaxTokens: o.cfg.MaxTokens, Timeout: o.cfg.TaskTimeout},
		budget.Config{MaxSteps: opts.MaxSteps, Timeout: opts.Timeout})
	if err := bcfg.Validate(); err != nil {
		return "", fmt.Errorf("%w: budget: %v", ErrInvalidSubmission, err)
	}
	id := o.newID()
	r := &run{
		task:     newTask(id, command, bcfg.MaxSteps, o.now()),
		stream:   newStream(),
		opts:     opts,
		sinks:    o.sinks,
		logger:   o.logger,
		now:      o.now,
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
	r.monitor = budget.NewMonitor(bcfg)

	o.mu.Lock()
	if _, dup := o.runs[id]; dup {
		o.mu.Unlock()
		return "", fmt.Errorf("duplicate task id %s", id)
	}
	o.runs[id] = r
	o.order = append(o.order, id)
	o.mu.Unlock()

	tasksStarted.Inc()
	o.wg.Add(1)
	go o.drive(r)
	return id, nil
}

// Execute submits command and subscribes to its events.
func (o *Orchestrator) Execute(ctx context.Context, command string, opts SubmitOptions) (string, <-chan Event, error) {
	id, err := o.Submit(ctx, command, opts)
	if err != nil {
		return "", nil, err
	}
	ch, err := o.Subscribe(ctx, id)
	return id, ch, err
}

// Subscribe replays a task's events from the start and follows it to the
// terminal event. Cancelling ctx only detaches the subscriber.
func (o *Orchestrator) Subscribe(ctx context.Context, id string) (<-chan Event, error) {
	r, ok := o.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return r.stream.subscribe(ctx, o.cfg.EventBuffer), nil
}

// CancelTask signals a running task. The task fails with a cancellation at
// its next check between invocations.
func (o *Orchestrator) CancelTask(id string) error {
	r, ok := o.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if r.task.Phase().Terminal() {
		return fmt.Errorf("%w: %s", ErrTaskFinished, id)
	}
	r.cancel("cancelled by operator")
	return nil
}

// GetTask returns the live record, falling back to the store for tasks this
// process no longer holds.
func (o *Orchestrator) GetTask(ctx context.Context, id string) (TaskRecord, error) {
	if r, ok := o.lookup(id); ok {
		return r.task.Record(), nil
	}
	if o.store != nil {
		rec, err := o.store.Get(ctx, id)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrTaskNotFound) {
			return TaskRecord{}, err
		}
	}
	return TaskRecord{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
}

// ListTasks pages through tasks newest first. Live tasks of this process are
// merged with the store's records and take precedence over them, so running
// tasks are listed before they are first persisted.
func (o *Orchestrator) ListTasks(ctx context.Context, c Criteria) ([]TaskRecord, int, error) {
	if c.Limit <= 0 {
		c.Limit = 20
	}
	if c.Offset < 0 {
		c.Offset = 0
	}

	o.mu.RLock()
	live := make(map[string]TaskRecord, len(o.order))
	for _, id := range o.order {
		live[id] = o.runs[id].task.Record()
	}
	o.mu.RUnlock()

	all := make([]TaskRecord, 0, len(live))
	for _, rec := range live {
		if c.Status == "" || rec.Status == c.Status {
			all = append(all, rec)
		}
	}
	if o.store != nil {
		stored, err := o.storedRecords(ctx, c.Status)
		if err != nil {
			return nil, 0, err
		}
		for _, rec := range stored {
			if _, ok := live[rec.ID]; !ok {
				all = append(all, rec)
			}
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := len(all)
	if c.Offset >= total {
		return []TaskRecord{}, total, nil
	}
	end := c.Offset + c.Limit
	if end > total {
		end = total
	}
	return all[c.Offset:end], total, nil
}

const storePageSize = 200

// storedRecords reads every persisted record with the given status.
func (o *Orchestrator) storedRecords(ctx context.Context, status Phase) ([]TaskRecord, error) {
	var out []TaskRecord
	seen := make(map[string]struct{})
	for offset := 0; ; offset += storePageSize {
		page, total, err := o.store.Query(ctx, Criteria{Status: status, Limit: storePageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, rec := range page {
			if _, dup := seen[rec.ID]; dup {
				continue
			}
			seen[rec.ID] = struct{}{}
			out = append(out, rec)
		}
		if len(page) < storePageSize || offset+len(page) >= total {
			return out, nil
		}
	}
}

// Wait blocks until every submitted task has finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// Shutdown cancels every running task and waits for them to finish or ctx to end.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.RLock()
	for _, r := range o.runs {
		r.cancel("shutting down")
	}
	o.mu.RUnlock()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed once the task reaches a terminal phase.
func (o *Orchestrator) Done(id string) (<-chan struct{}, error) {
	r, ok := o.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return r.done, nil
}

func (o *Orchestrator) lookup(id string) (*run, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.runs[id]
	return r, ok
}

// drive runs the whole state machine for one task.
func (o *Orchestrator) drive(r *run) {
	defer o.wg.Done()
	defer close(r.done)
	ctx := o.baseCtx

	if o.sem != nil {
		select {
		case o.sem <- struct{}{}:
			defer func() { <-o.sem }()
		case <-r.cancelCh:
		case <-ctx.Done():
		}
	}
	tasksRunning.Inc()
	defer tasksRunning.Dec()

	ctx, span := orchestratorTracer.Start(ctx, "orchestrator.task", trace.WithAttributes(attribute.String("task_id", r.task.ID())))
	defer span.End()
	r.task.markStarted(o.now())

	if err := o.process(ctx, r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.fail(ctx, r, err)
		return
	}
	o.complete(ctx, r)
}

func (o *Orchestrator) process(ctx context.Context, r *run) error {
	if err := r.checkCancel(ctx); err != nil {
		return err
	}
	if err := r.transition(ctx, PhasePlanning, fmt.Sprintf("Received command %q", r.task.command), ""); err != nil {
		return err
	}

	pctx, span := orchestratorTracer.Start(ctx, "orchestrator.plan")
	subtasks, err := o.exec.Plan(pctx, r)
	endSpan(span, err)
	if err != nil {
		return err
	}
	if err := r.transition(ctx, PhaseExecuting, fmt.Sprintf("Executing %d sub-tasks", len(subtasks)), ""); err != nil {
		return err
	}

	lctx, span := orchestratorTracer.Start(ctx, "orchestrator.loop")
	err = o.loop(lctx, r, subtasks)
	endSpan(span, err)
	if err != nil {
		return err
	}

	if err := r.checkCancel(ctx); err != nil {
		return err
	}
	if err := r.transition(ctx, PhaseCritiquing, "Collection finished, critiquing", fmt.Sprintf("%d items collected", r.task.itemCount())); err != nil {
		return err
	}
	cctx, span := orchestratorTracer.Start(ctx, "orchestrator.critique")
	err = o.exec.Critique(cctx, r)
	endSpan(span, err)
	if err != nil {
		return err
	}

	if err := r.checkCancel(ctx); err != nil {
		return err
	}
	if err := r.transition(ctx, PhaseSynthesizing, "Critique finished, synthesizing", ""); err != nil {
		return err
	}
	sctx, span := orchestratorTracer.Start(ctx, "orchestrator.synthesize")
	err = o.exec.Synthesize(sctx, r)
	endSpan(span, err)
	return err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// loop consumes sub-tasks and discovered keywords, one unit per iteration,
// until no work remains or the step budget is spent. After a sub-task the
// loop expands one queued keyword before taking the next sub-task.
func (o *Orchestrator) loop(ctx context.Context, r *run, subtasks []SubTask) error {
	next := 0
	for {
		if err := r.checkCancel(ctx); err != nil {
			return err
		}
		phase := r.task.Phase()
		pending := r.task.pendingKeywords()
		expand := phase == PhaseExpanding || (pending > 0 && next >= len(subtasks))
		if !expand && next >= len(subtasks) {
			return nil
		}
		if err := r.monitor.Reserve(); err != nil {
			if isCapacity(err) {
				r.emit(ctx, "Step budget exhausted, moving on to critique", "budget",
					fmt.Sprintf("%v; %d keywords and %d sub-tasks left unprocessed", err, pending, len(subtasks)-next), 0, 0)
				return nil
			}
			return err
		}
		r.task.incSteps()

		if expand {
			kw, _ := r.task.popKeyword()
			if phase != PhaseExpanding {
				if err := r.transition(ctx, PhaseExpanding, fmt.Sprintf("Expanding on %d discovered keyword(s)", pending), ""); err != nil {
					return err
				}
			}
			if err := o.exec.Expand(ctx, r, kw); err != nil {
				return err
			}
			if err := r.transition(ctx, PhaseExecuting, "Expansion step done", fmt.Sprintf("%d keywords queued", r.task.pendingKeywords())); err != nil {
				return err
			}
			continue
		}

		st := subtasks[next]
		next++
		_, sub, _ := capabilityFor(st.Kind)
		if err := r.transition(ctx, sub, fmt.Sprintf("Sub-task %s (%s)", st.ID, st.Kind), st.Description); err != nil {
			return err
		}
		if err := o.exec.Search(ctx, r, st); err != nil {
			return err
		}
		if n := r.task.pendingKeywords(); n > 0 {
			if err := r.transition(ctx, PhaseExpanding, fmt.Sprintf("Discovered %d keyword(s) to follow up", n), ""); err != nil {
				return err
			}
		} else if err := r.transition(ctx, PhaseExecuting, "Sub-task done", ""); err != nil {
			return err
		}
	}
}

func (o *Orchestrator) complete(ctx context.Context, r *run) {
	tokens, count := r.task.totals()
	if err := r.task.setPhase(PhaseCompleted); err != nil {
		o.fail(ctx, r, err)
		return
	}
	r.task.markFinished(o.now())
	r.emit(ctx, "Task completed", "", fmt.Sprintf("%d items, %d tokens", count, tokens), 0, 0)

	if o.indexer != nil {
		if err := o.indexCredible(ctx, r); err != nil {
			o.logger.Printf("warn: task %s: index: %v", r.task.ID(), err)
		}
	}
	o.persist(ctx, r)
	tasksFinished.WithLabelValues(string(PhaseCompleted), "").Inc()
	r.publish(ctx, Event{Type: EventComplete, TaskID: r.task.ID(), Progress: 100, ItemCount: count, TotalTokens: tokens, Status: PhaseCompleted})
	o.logger.Printf("task %s completed: %d items, %d tokens", r.task.ID(), count, tokens)
}

func (o *Orchestrator) indexCredible(ctx context.Context, r *run) error {
	scores := r.task.scoresSnapshot()
	var credible []capability.Item
	for _, it := range r.task.itemsSnapshot() {
		if scores[it.Key()] >= o.exec.cfg.MinCredibility {
			credible = append(credible, it)
		}
	}
	if len(credible) == 0 {
		return nil
	}
	return o.indexer.Index(context.WithoutCancel(ctx), credible, scores)
}

// fail drives the task into failed. Collected data and the chain so far are
// kept on the record.
func (o *Orchestrator) fail(ctx context.Context, r *run, cause error) {
	kind := failureKind(cause)
	msg := cause.Error()
	r.task.setFailure(string(kind), msg)
	if err := r.task.setPhase(PhaseFailed); err != nil {
		o.logger.Printf("warn: task %s: %v", r.task.ID(), err)
	}
	r.task.markFinished(o.now())
	r.emit(ctx, "Task failed", "", fmt.Sprintf("%s: %s", kind, msg), 0, 0)

	o.persist(ctx, r)
	tokens, count := r.task.totals()
	tasksFinished.WithLabelValues(string(PhaseFailed), string(kind)).Inc()
	r.publish(ctx, Event{Type: EventFailed, TaskID: r.task.ID(), Progress: 100, ItemCount: count, TotalTokens: tokens, Status: PhaseFailed, ErrorKind: string(kind), Message: msg})
	o.logger.Printf("task %s failed (%s): %s", r.task.ID(), kind, msg)
}

func (o *Orchestrator) persist(ctx context.Context, r *run) {
	if o.store == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.store.Persist(pctx, r.task.Record()); err != nil {
		persistFailures.Inc()
		o.logger.Printf("warn: task %s: persist: %v", r.task.ID(), err)
	}
}
