package agent

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/autopilot/internal/store"
)

func newResumeStore(t *testing.T) *store.StateStore {
	t.Helper()
	st, err := store.NewStateStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	return st
}

func summaryState(steps int) *store.ExecutionState {
	plan := &store.Plan{Goal: "ship it"}
	remaining := make([]int, 0, steps)
	for i := 0; i < steps; i++ {
		plan.Steps = append(plan.Steps, store.Step{ID: i + 1, Description: fmt.Sprintf("step-%d", i+1)})
		remaining = append(remaining, i)
	}
	return &store.ExecutionState{
		Goal:                 "ship it",
		Plan:                 plan,
		Status:               store.StatusRunning,
		RemainingStepIndices: remaining,
	}
}

func TestResumeEngine_Summarize(t *testing.T) {
	r := NewResumeEngine(newResumeStore(t), 0, 0)
	assert.Equal(t, DefaultMaxResumeAttempts, r.MaxAttempts)
	assert.Equal(t, DefaultContextTokens, r.TokenBudget)

	st := summaryState(3)
	st.CompletedStepIndices = []int{0}
	st.RemainingStepIndices = []int{1, 2}
	st.CurrentStepIndex = 1
	st.Results = []store.ResultRecord{
		{StepIndex: 0, Success: true},
		{StepIndex: 1, Success: false},
	}
	st.Errors = []store.ErrorRecord{{Error: "boom"}}

	out := r.Summarize(st)
	assert.True(t, strings.HasPrefix(out, "=== EXECUTION CONTEXT (RESUMED) ===\nGoal: ship it\nStatus: running\nCurrent Step: 2"))
	assert.Contains(t, out, "Completed Steps: 1")
	assert.Contains(t, out, "Remaining Steps: 2")
	assert.Contains(t, out, "  Step 1: ✓")
	assert.Contains(t, out, "  Step 2: ✗")
	assert.Contains(t, out, "  3. step-3")
	assert.Contains(t, out, "  - boom")
	assert.NotContains(t, out, "truncated")
	assert.True(t, strings.HasSuffix(out, "=== END CONTEXT ==="))
}

func TestResumeEngine_SummarizeKeepsRecentDetail(t *testing.T) {
	r := NewResumeEngine(newResumeStore(t), 3, 100000)

	st := summaryState(30)
	for i := 0; i < 7; i++ {
		st.Results = append(st.Results, store.ResultRecord{StepIndex: i, Success: true})
	}
	for i := 0; i < 5; i++ {
		st.Errors = append(st.Errors, store.ErrorRecord{Error: fmt.Sprintf("err-%d", i)})
	}

	out := r.Summarize(st)
	assert.NotContains(t, out, "  Step 2: ✓")
	assert.Contains(t, out, "  Step 3: ✓")
	assert.Contains(t, out, "  Step 7: ✓")
	assert.Contains(t, out, "  20. step-20")
	assert.NotContains(t, out, "  21. step-21")
	assert.Contains(t, out, "... and 10 more")
	assert.NotContains(t, out, "err-1")
	assert.Contains(t, out, "err-2")
	assert.Contains(t, out, "err-4")
}

func TestResumeEngine_SummarizeTruncatesToBudget(t *testing.T) {
	r := NewResumeEngine(newResumeStore(t), 3, 4)
	r.count = func(string) int { return 1 }

	st := summaryState(3)
	st.Results = []store.ResultRecord{{StepIndex: 0, Success: true}, {StepIndex: 1, Success: true}}

	out := r.Summarize(st)
	assert.Contains(t, out, "Completed Steps Summary:")
	assert.Contains(t, out, "  Step 1: ✓")
	assert.NotContains(t, out, "  Step 2: ✓")
	assert.NotContains(t, out, "Remaining Steps:\n")
	assert.Contains(t, out, "  ... (truncated)\n=== END CONTEXT ===")
}

func TestResumeEngine_Begin(t *testing.T) {
	states := newResumeStore(t)
	r := NewResumeEngine(states, 2, 0)

	_, _, err := r.Begin()
	assert.ErrorIs(t, err, ErrNoExecution)

	plan := summaryState(2).Plan
	_, err = states.Initialize("ship it", plan)
	require.NoError(t, err)

	st, summary, err := r.Begin()
	require.NoError(t, err)
	assert.Equal(t, 1, st.ResumeCount)
	assert.Contains(t, summary, "Goal: ship it")
	assert.True(t, r.CanRetry(st))

	st, _, err = r.Begin()
	require.NoError(t, err)
	assert.False(t, r.CanRetry(st))

	_, _, err = r.Begin()
	assert.ErrorIs(t, err, ErrResumeExhausted)
	assert.Contains(t, err.Error(), "max resume attempts (2) exceeded")

	require.NoError(t, states.MarkExecutionComplete(true))
	_, _, err = r.Begin()
	assert.ErrorIs(t, err, ErrNothingToResume)
}

func TestResumeEngine_HandleTokenLimitError(t *testing.T) {
	states := newResumeStore(t)
	r := NewResumeEngine(states, 3, 0)

	err := r.HandleTokenLimitError("context too long", nil)
	assert.ErrorIs(t, err, ErrTokenLimit)
	assert.Contains(t, err.Error(), "no state to save")

	_, err = states.Initialize("ship it", summaryState(1).Plan)
	require.NoError(t, err)

	idx := 0
	err = r.HandleTokenLimitError("context too long", &idx)
	assert.ErrorIs(t, err, ErrTokenLimit)
	assert.Contains(t, err.Error(), "state saved")

	st, ok := states.State()
	require.True(t, ok)
	assert.Equal(t, store.StatusRunning, st.Status)
	require.Len(t, st.Errors, 1)
	assert.Equal(t, "Token limit error: context too long", st.Errors[0].Error)
}
