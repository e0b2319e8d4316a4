package core

import (
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/sentinel/internal/budget"
	"github.com/mohammad-safakhou/sentinel/internal/recovery"
)

var (
	// ErrTaskNotFound is returned by lookups for unknown task ids.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskFinished is returned when cancelling a task already in a terminal phase.
	ErrTaskFinished = errors.New("task already finished")
	// ErrInvalidTransition marks a phase change the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid phase transition")
	// ErrInvalidSubmission rejects a blank command or an unusable budget.
	ErrInvalidSubmission = errors.New("invalid submission")
)

// PlanningError means the model produced no actionable decomposition.
type PlanningError struct {
	Reason string
}

func (e *PlanningError) Error() string { return "planning: " + e.Reason }

// CancellationError ends a task on operator request or budget expiry.
type CancellationError struct {
	Reason string
}

func (e *CancellationError) Error() string { return "cancelled: " + e.Reason }

// isCapacity reports a step or token budget exhaustion, which is not a failure.
func isCapacity(err error) bool {
	var ex budget.ErrExceeded
	return errors.As(err, &ex) && ex.Kind != budget.KindTime
}

// failureKind maps a terminal error to the kind reported on the failed event.
func failureKind(err error) recovery.Kind {
	var pe *PlanningError
	var ce *CancellationError
	switch {
	case errors.As(err, &pe):
		return recovery.KindPlanning
	case errors.As(err, &ce):
		return recovery.KindCancelled
	}
	return recovery.KindOf(err)
}

func transitionError(from, to Phase) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
