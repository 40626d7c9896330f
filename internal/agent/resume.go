package agent

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/rahul/autopilot/internal/store"
	"github.com/tiktoken-go/tokenizer"
)

const (
	DefaultMaxResumeAttempts = 3
	DefaultContextTokens     = 2000

	maxRemainingListed = 20
)

// ResumeEngine decides whether a persisted execution may be re-entered and
// builds the compressed context handed to the patcher on the way back in.
type ResumeEngine struct {
	state       *store.StateStore
	MaxAttempts int
	TokenBudget int
	count       func(string) int
}

func NewResumeEngine(state *store.StateStore, maxAttempts, tokenBudget int) *ResumeEngine {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxResumeAttempts
	}
	if tokenBudget <= 0 {
		tokenBudget = DefaultContextTokens
	}
	r := &ResumeEngine{
		state:       state,
		MaxAttempts: maxAttempts,
		TokenBudget: tokenBudget,
	}
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		log.Printf("[Resume] Tokenizer unavailable, estimating: %v", err)
		r.count = func(s string) int { return len(s) / 4 }
		return r
	}
	r.count = func(s string) int {
		n, err := codec.Count(s)
		if err != nil {
			return len(s) / 4
		}
		return n
	}
	return r
}

// Begin checks the ceiling and, when a resume is allowed, records it in the
// store and returns the refreshed record with its compressed context. A
// refused resume leaves the store untouched.
func (r *ResumeEngine) Begin() (*store.ExecutionState, string, error) {
	current, ok := r.state.State()
	if !ok {
		return nil, "", ErrNoExecution
	}
	if current.Status == store.StatusCompleted {
		return nil, "", ErrNothingToResume
	}

	st, err := r.state.BeginResume(r.MaxAttempts)
	switch {
	case errors.Is(err, store.ErrResumeLimitReached):
		return nil, "", fmt.Errorf("%w: max resume attempts (%d) exceeded, please restart the task", ErrResumeExhausted, r.MaxAttempts)
	case errors.Is(err, store.ErrExecutionCompleted):
		return nil, "", ErrNothingToResume
	case errors.Is(err, store.ErrNoExecution):
		return nil, "", ErrNoExecution
	case err != nil:
		return nil, "", err
	}

	log.Printf("[Resume] Resume attempt %d/%d from step %d. Completed: %d, Remaining: %d",
		st.ResumeCount, r.MaxAttempts, st.CurrentStepIndex+1, len(st.CompletedStepIndices), len(st.RemainingStepIndices))
	return st, r.Summarize(st), nil
}

// CanRetry reports whether another resume would be accepted.
func (r *ResumeEngine) CanRetry(st *store.ExecutionState) bool {
	return st != nil && st.Status != store.StatusCompleted && st.ResumeCount < r.MaxAttempts
}

// Summarize renders the execution for a text-generation prompt and keeps it
// inside TokenBudget by dropping the optional detail lines that do not fit.
func (r *ResumeEngine) Summarize(st *store.ExecutionState) string {
	head := []string{
		"=== EXECUTION CONTEXT (RESUMED) ===",
		"Goal: " + st.Goal,
		"Status: " + string(st.Status),
		fmt.Sprintf("Current Step: %d", st.CurrentStepIndex+1),
		fmt.Sprintf("Completed Steps: %d", len(st.CompletedStepIndices)),
		fmt.Sprintf("Remaining Steps: %d", len(st.RemainingStepIndices)),
	}
	tail := "=== END CONTEXT ==="

	var sections [][]string

	results := st.Results
	if len(results) > 5 {
		results = results[len(results)-5:]
	}
	if len(results) > 0 {
		lines := []string{"", "Completed Steps Summary:"}
		for _, res := range results {
			mark := "✓"
			if !res.Success {
				mark = "✗"
			}
			lines = append(lines, fmt.Sprintf("  Step %d: %s", res.StepIndex+1, mark))
		}
		sections = append(sections, lines)
	}

	if st.Plan != nil && len(st.RemainingStepIndices) > 0 {
		lines := []string{"", "Remaining Steps:"}
		for n, idx := range st.RemainingStepIndices {
			if n == maxRemainingListed {
				lines = append(lines, fmt.Sprintf("  ... and %d more", len(st.RemainingStepIndices)-n))
				break
			}
			if idx >= 0 && idx < len(st.Plan.Steps) {
				lines = append(lines, fmt.Sprintf("  %d. %s", idx+1, st.Plan.Steps[idx].Description))
			}
		}
		sections = append(sections, lines)
	}

	errs := st.Errors
	if len(errs) > 3 {
		errs = errs[len(errs)-3:]
	}
	if len(errs) > 0 {
		lines := []string{"", "Recent Errors:"}
		for _, e := range errs {
			lines = append(lines, "  - "+e.Error)
		}
		sections = append(sections, lines)
	}

	out := append([]string{}, head...)
	used := r.count(strings.Join(append(out, tail), "\n"))
	truncated := false
	for _, section := range sections {
		for _, line := range section {
			cost := r.count(line + "\n")
			if used+cost > r.TokenBudget {
				truncated = true
				break
			}
			out = append(out, line)
			used += cost
		}
		if truncated {
			break
		}
	}
	if truncated {
		out = append(out, "  ... (truncated)")
	}
	out = append(out, tail)
	return strings.Join(out, "\n")
}

// HandleTokenLimitError saves the failure and leaves the execution running
// so that the next resume picks it up.
func (r *ResumeEngine) HandleTokenLimitError(msg string, stepIndex *int) error {
	log.Printf("[Resume] Token limit error detected: %s", msg)
	if !r.state.HasActiveExecution() {
		return fmt.Errorf("%w: no state to save", ErrTokenLimit)
	}
	if err := r.state.AddError("Token limit error: "+msg, stepIndex); err != nil {
		return err
	}
	return fmt.Errorf("%w: state saved, resume to continue", ErrTokenLimit)
}
