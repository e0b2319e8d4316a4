package core

// transitions lists the allowed phase changes other than entering
// recovering or failed, which every non-terminal phase may do.
var transitions = map[Phase][]Phase{
	PhaseIdle:         {PhasePlanning},
	PhasePlanning:     {PhaseExecuting},
	PhaseExecuting:    {PhaseSearching, PhaseScraping, PhaseExpanding, PhaseCritiquing},
	PhaseSearching:    {PhaseExecuting, PhaseExpanding},
	PhaseScraping:     {PhaseExecuting, PhaseExpanding},
	PhaseExpanding:    {PhaseExecuting, PhaseCritiquing},
	PhaseCritiquing:   {PhaseSynthesizing},
	PhaseSynthesizing: {PhaseCompleted},
}

// CanTransition reports whether from -> to is a legal move. Leaving
// recovering is only legal back to the interrupted phase, so callers pass it
// as prior.
func CanTransition(from, to, prior Phase) bool {
	if from.Terminal() {
		return false
	}
	if to == PhaseFailed {
		return true
	}
	if from == PhaseRecovering {
		return to == prior
	}
	if to == PhaseRecovering {
		return true
	}
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// phaseProgress is the progress floor reached on entering a phase. The loop
// phases interpolate between loopStart and loopEnd by step usage.
var phaseProgress = map[Phase]int{
	PhaseIdle:         0,
	PhasePlanning:     10,
	PhaseCritiquing:   80,
	PhaseSynthesizing: 90,
	PhaseCompleted:    100,
	PhaseFailed:       100,
}

const (
	loopStart = 20
	loopEnd   = 70
)

func progressFor(phase Phase, steps, maxSteps, last int) int {
	p, ok := phaseProgress[phase]
	if !ok {
		// loop and recovering phases
		p = loopStart
		if maxSteps > 0 {
			p = loopStart + (loopEnd-loopStart)*steps/maxSteps
		}
	}
	if p < last {
		return last
	}
	return p
}
