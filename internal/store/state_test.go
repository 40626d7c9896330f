package store

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeStepPlan() *Plan {
	return &Plan{
		Goal: "build a thing",
		Steps: []Step{
			{ID: 1, Description: "one", Capability: "filesystem", Operation: "write_file", Params: map[string]any{"path": "a.txt"}},
			{ID: 2, Description: "two", Capability: "filesystem", Operation: "write_file"},
			{ID: 3, Description: "three", Capability: "shell", Operation: "execute_shell"},
		},
		RiskLevel:           RiskLow,
		EstimatedComplexity: ComplexitySimple,
		Status:              PlanPendingApproval,
	}
}

func newTestStore(t *testing.T) (*StateStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "state.json")
	s, err := NewStateStore(path)
	require.NoError(t, err)
	return s, path
}

func assertPartition(t *testing.T, st *ExecutionState) {
	t.Helper()
	seen := map[int]bool{}
	for _, i := range st.CompletedStepIndices {
		assert.False(t, seen[i], "index %d appears twice", i)
		seen[i] = true
	}
	for _, i := range st.RemainingStepIndices {
		assert.False(t, seen[i], "index %d is both completed and remaining", i)
		seen[i] = true
	}
	assert.Len(t, seen, len(st.Plan.Steps))
}

func TestStateStore_InitializePersists(t *testing.T) {
	s, path := newTestStore(t)

	st, err := s.Initialize("build a thing", threeStepPlan())
	require.NoError(t, err)
	assert.NotEmpty(t, st.RunID)
	assert.Equal(t, StatusRunning, st.Status)
	assert.Equal(t, []int{0, 1, 2}, st.RemainingStepIndices)
	assert.Empty(t, st.CompletedStepIndices)
	assert.Equal(t, PlanApproved, st.Plan.Status)
	assert.True(t, s.HasActiveExecution())

	reopened, err := NewStateStore(path)
	require.NoError(t, err)
	loaded, ok := reopened.State()
	require.True(t, ok)
	assert.Equal(t, st.RunID, loaded.RunID)
	assert.Equal(t, []int{0, 1, 2}, loaded.RemainingStepIndices)
}

func TestStateStore_InitializeRejectsActive(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Initialize("g", threeStepPlan())
	require.NoError(t, err)

	_, err = s.Initialize("g2", threeStepPlan())
	assert.ErrorIs(t, err, ErrExecutionActive)

	require.NoError(t, s.Clear())
	_, err = s.Initialize("g2", threeStepPlan())
	assert.NoError(t, err)
}

func TestStateStore_InitializeRejectsEmptyPlan(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Initialize("g", &Plan{})
	assert.Error(t, err)
}

func TestStateStore_MarkStepCompleteIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Initialize("g", threeStepPlan())
	require.NoError(t, err)

	require.NoError(t, s.MarkStepComplete(0, true, "ok"))
	require.NoError(t, s.MarkStepComplete(0, true, "ok"))

	st, _ := s.State()
	assert.Equal(t, []int{0}, st.CompletedStepIndices)
	assert.Equal(t, []int{1, 2}, st.RemainingStepIndices)
	assert.Len(t, st.Results, 1)
	assertPartition(t, st)
}

func TestStateStore_FailedAttemptKeepsStepRemaining(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Initialize("g", threeStepPlan())
	require.NoError(t, err)

	require.NoError(t, s.MarkStepComplete(1, false, "boom"))
	require.NoError(t, s.MarkStepComplete(1, false, "boom again"))

	st, _ := s.State()
	assert.Equal(t, 2, st.RetryCount)
	assert.Contains(t, st.RemainingStepIndices, 1)
	assert.Len(t, st.Results, 2)
	assertPartition(t, st)

	require.NoError(t, s.MarkStepComplete(1, true, "fixed"))
	st, _ = s.State()
	assert.Equal(t, 0, st.RetryCount)
	assert.Equal(t, []int{1}, st.CompletedStepIndices)
	assertPartition(t, st)
}

func TestStateStore_PartitionHoldsThroughout(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Initialize("g", threeStepPlan())
	require.NoError(t, err)

	for _, i := range []int{2, 0, 1} {
		require.NoError(t, s.UpdateCurrentStep(i))
		require.NoError(t, s.MarkStepComplete(i, true, ""))
		st, _ := s.State()
		assertPartition(t, st)
		assert.True(t, sort.IntsAreSorted(st.CompletedStepIndices))
	}
	st, _ := s.State()
	assert.Empty(t, st.RemainingStepIndices)
}

func TestStateStore_OutOfRange(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Initialize("g", threeStepPlan())
	require.NoError(t, err)

	assert.ErrorIs(t, s.MarkStepComplete(7, true, ""), ErrStepOutOfRange)
	assert.ErrorIs(t, s.UpdateCurrentStep(-1), ErrStepOutOfRange)
}

func TestStateStore_MutationsWithoutExecution(t *testing.T) {
	s, _ := newTestStore(t)
	assert.ErrorIs(t, s.MarkStepComplete(0, true, ""), ErrNoExecution)
	assert.ErrorIs(t, s.AddError("x", nil), ErrNoExecution)
	assert.False(t, s.HasActiveExecution())
	assert.False(t, s.ProgressSummary().Active)
}

func TestStateStore_BeginResumeCeiling(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Initialize("g", threeStepPlan())
	require.NoError(t, err)
	require.NoError(t, s.MarkExecutionComplete(false))

	for i := 1; i <= 2; i++ {
		st, err := s.BeginResume(2)
		require.NoError(t, err)
		assert.Equal(t, i, st.ResumeCount)
		assert.Equal(t, StatusRunning, st.Status)
		require.NoError(t, s.MarkExecutionComplete(false))
	}

	before, _ := s.State()
	_, err = s.BeginResume(2)
	assert.ErrorIs(t, err, ErrResumeLimitReached)
	after, _ := s.State()
	assert.Equal(t, before.ResumeCount, after.ResumeCount)
	assert.Equal(t, before.LastUpdated, after.LastUpdated)
}

func TestStateStore_BeginResumeRejectsCompleted(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Initialize("g", threeStepPlan())
	require.NoError(t, err)
	require.NoError(t, s.MarkExecutionComplete(true))

	_, err = s.BeginResume(3)
	assert.ErrorIs(t, err, ErrExecutionCompleted)
}

func TestStateStore_BeginResumeWithNoRemainingSteps(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Initialize("g", threeStepPlan())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.MarkStepComplete(i, true, "ok"))
	}

	st, err := s.BeginResume(3)
	require.NoError(t, err)
	assert.Empty(t, st.RemainingStepIndices)
	assert.Equal(t, 1, st.ResumeCount)
	assert.Equal(t, StatusRunning, st.Status)
	assertPartition(t, st)
}

func TestStateStore_ErrorsAndProgress(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Initialize("g", threeStepPlan())
	require.NoError(t, err)

	idx := 1
	require.NoError(t, s.AddError("compile failed", &idx))
	require.NoError(t, s.MarkStepComplete(0, true, ""))

	st, _ := s.State()
	require.Len(t, st.Errors, 1)
	require.NotNil(t, st.Errors[0].StepIndex)
	assert.Equal(t, 1, *st.Errors[0].StepIndex)

	p := s.ProgressSummary()
	assert.True(t, p.Active)
	assert.Equal(t, 3, p.TotalSteps)
	assert.Equal(t, 1, p.CompletedSteps)
	assert.InDelta(t, 33.33, p.ProgressPercentage, 0.01)
	assert.Equal(t, 1, p.ErrorsCount)
}

func TestStateStore_ClearRemovesFile(t *testing.T) {
	s, path := newTestStore(t)
	_, err := s.Initialize("g", threeStepPlan())
	require.NoError(t, err)
	require.FileExists(t, path)

	require.NoError(t, s.Clear())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, ok := s.State()
	assert.False(t, ok)
}

func TestStateStore_NoTempFilesLeftBehind(t *testing.T) {
	s, path := newTestStore(t)
	_, err := s.Initialize("g", threeStepPlan())
	require.NoError(t, err)
	require.NoError(t, s.MarkStepComplete(0, true, "x"))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(path), entries[0].Name())
}

func TestStateStore_CorruptFileIsReported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := NewStateStore(path)
	assert.Error(t, err)
}

func TestStateStore_StateIsACopy(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Initialize("g", threeStepPlan())
	require.NoError(t, err)

	st, _ := s.State()
	st.Plan.Steps[0].Description = "mutated"
	st.RemainingStepIndices[0] = 99

	again, _ := s.State()
	assert.Equal(t, "one", again.Plan.Steps[0].Description)
	assert.Equal(t, 0, again.RemainingStepIndices[0])
}
