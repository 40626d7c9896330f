package agent

import (
	"errors"
	"fmt"
)

var (
	ErrPlanGeneration   = errors.New("plan generation failed")
	ErrPermissionDenied = errors.New("permission denied")
	ErrStepExecution    = errors.New("step execution failed")
	ErrValidation       = errors.New("validation failed")
	ErrResumeExhausted  = errors.New("resume attempts exhausted")
	ErrTokenLimit       = errors.New("token limit exceeded")
	ErrCancelled        = errors.New("execution cancelled")
	ErrBusy             = errors.New("another goal is already being handled")
	ErrNoExecution      = errors.New("no execution state found to resume")
	ErrNothingToResume  = errors.New("execution already completed")
	ErrNoPendingPlan    = errors.New("no plan is awaiting approval")
	ErrInvalidPhase     = errors.New("invalid phase transition")
)

// StepError ties a failure to the step and attempt it happened on.
type StepError struct {
	Index   int
	Attempt int
	Op      string
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s, attempt %d): %v", e.Index+1, e.Op, e.Attempt, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// stepIndex returns the step index carried by err, if any.
func stepIndex(err error) *int {
	var se *StepError
	if errors.As(err, &se) {
		i := se.Index
		return &i
	}
	return nil
}
