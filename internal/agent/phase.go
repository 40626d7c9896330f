package agent

import "fmt"

// Phase is where the orchestrator is in handling a goal.
type Phase string

const (
	PhaseIdle             Phase = "IDLE"
	PhasePlanning         Phase = "PLANNING"
	PhaseAwaitingApproval Phase = "AWAITING_APPROVAL"
	PhaseExecuting        Phase = "EXECUTING"
	PhaseValidating       Phase = "VALIDATING"
	PhasePatching         Phase = "PATCHING"
	PhasePreparingVC      Phase = "PREPARING_VC"
	PhaseDone             Phase = "DONE"
	PhaseFailed           Phase = "FAILED"
	PhaseCancelled        Phase = "CANCELLED"
)

var transitions = map[Phase]map[Phase]bool{
	PhaseIdle: {
		PhasePlanning:  true,
		PhaseExecuting: true,
		PhaseCancelled: true,
	},
	PhasePlanning: {
		PhaseAwaitingApproval: true,
		PhaseFailed:           true,
		PhaseIdle:             true,
	},
	PhaseAwaitingApproval: {
		PhaseExecuting: true,
		PhasePlanning:  true,
		PhaseIdle:      true,
	},
	PhaseExecuting: {
		PhaseValidating: true,
		PhasePatching:   true,
		PhaseFailed:     true,
		PhaseCancelled:  true,
	},
	PhaseValidating: {
		PhaseExecuting:   true,
		PhasePatching:    true,
		PhasePreparingVC: true,
		PhaseFailed:      true,
		PhaseCancelled:   true,
	},
	PhasePatching: {
		PhaseExecuting:  true,
		PhaseValidating: true,
		PhaseFailed:     true,
		PhaseCancelled:  true,
	},
	PhasePreparingVC: {
		PhaseDone: true,
	},
	PhaseDone: {
		PhaseIdle:      true,
		PhasePlanning:  true,
		PhaseExecuting: true,
	},
	PhaseFailed: {
		PhaseIdle:      true,
		PhasePlanning:  true,
		PhaseExecuting: true,
	},
	PhaseCancelled: {
		PhaseIdle:      true,
		PhasePlanning:  true,
		PhaseExecuting: true,
	},
}

// CanTransition reports whether from -> to is allowed. Staying put is
// always allowed.
func CanTransition(from, to Phase) bool {
	if from == to {
		return true
	}
	return transitions[from][to]
}

// Terminal reports whether p ends a run.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed || p == PhaseCancelled
}

func checkTransition(from, to Phase) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidPhase, from, to)
	}
	return nil
}
