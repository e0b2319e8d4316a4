package core

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mohammad-safakhou/sentinel/internal/budget"
)

// run binds a task to its control flow: event stream, budget and
// cancellation signal. Exactly one goroutine drives a run.
type run struct {
	task    *Task
	stream  *stream
	monitor *budget.Monitor
	opts    SubmitOptions
	sinks   []Sink
	logger  *log.Logger
	now     func() time.Time

	cancelCh     chan struct{}
	cancelOnce   sync.Once
	cancelMu     sync.Mutex
	cancelReason string
	done         chan struct{}
}

// cancel signals the run; it takes effect at the next check between invocations.
func (r *run) cancel(reason string) {
	r.cancelOnce.Do(func() {
		r.cancelMu.Lock()
		r.cancelReason = reason
		r.cancelMu.Unlock()
		close(r.cancelCh)
	})
}

func (r *run) reason() string {
	r.cancelMu.Lock()
	defer r.cancelMu.Unlock()
	return r.cancelReason
}

// checkCancel returns a CancellationError when the operator cancelled, the
// parent context ended or the wall-clock budget ran out.
func (r *run) checkCancel(ctx context.Context) error {
	select {
	case <-r.cancelCh:
		return &CancellationError{Reason: r.reason()}
	default:
	}
	if err := ctx.Err(); err != nil {
		return &CancellationError{Reason: err.Error()}
	}
	if err := r.monitor.CheckTime(); err != nil {
		return &CancellationError{Reason: err.Error()}
	}
	return nil
}

// sleep waits d unless the run is cancelled first.
func (r *run) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return r.checkCancel(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return r.checkCancel(ctx)
	case <-r.cancelCh:
		return &CancellationError{Reason: r.reason()}
	case <-ctx.Done():
		return &CancellationError{Reason: ctx.Err().Error()}
	}
}

// emit appends a step in the current phase and streams it before returning.
func (r *run) emit(ctx context.Context, thought, action, observation string, tokens int64, dur time.Duration) ThoughtStep {
	step := r.task.appendStep(ThoughtStep{
		Phase:       r.task.Phase(),
		Timestamp:   r.now(),
		Thought:     thought,
		Action:      action,
		Observation: observation,
		Tokens:      tokens,
		Duration:    dur,
	})
	thoughtSteps.WithLabelValues(string(step.Phase)).Inc()
	r.publish(ctx, Event{Type: EventThought, TaskID: r.task.ID(), Step: &step, Progress: step.Progress})
	return step
}

// transition moves the task and emits the step that announces it.
func (r *run) transition(ctx context.Context, to Phase, thought, observation string) error {
	if err := r.task.setPhase(to); err != nil {
		return err
	}
	r.emit(ctx, thought, "", observation, 0, 0)
	return nil
}

func (r *run) publish(ctx context.Context, ev Event) {
	r.stream.append(ev)
	if len(r.sinks) == 0 {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for _, s := range r.sinks {
		if err := s.Publish(sctx, ev); err != nil {
			r.logger.Printf("warn: task %s: sink publish: %v", r.task.ID(), err)
		}
	}
}

func (r *run) addTokens(purpose string, n int64) {
	if n <= 0 {
		return
	}
	r.task.addTokens(n)
	r.monitor.AddTokens(n)
	tokensConsumed.WithLabelValues(purpose).Add(float64(n))
}
