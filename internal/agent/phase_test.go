package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Phase
		want     bool
	}{
		{PhaseIdle, PhasePlanning, true},
		{PhasePlanning, PhaseAwaitingApproval, true},
		{PhaseAwaitingApproval, PhaseExecuting, true},
		{PhaseExecuting, PhaseValidating, true},
		{PhaseValidating, PhasePatching, true},
		{PhasePatching, PhaseExecuting, true},
		{PhaseValidating, PhasePreparingVC, true},
		{PhasePreparingVC, PhaseDone, true},
		{PhaseFailed, PhaseExecuting, true},
		{PhaseExecuting, PhaseExecuting, true},
		{PhaseIdle, PhaseDone, false},
		{PhasePlanning, PhaseExecuting, false},
		{PhaseExecuting, PhasePreparingVC, false},
		{PhasePreparingVC, PhaseFailed, false},
		{PhaseDone, PhaseValidating, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestCheckTransition(t *testing.T) {
	assert.NoError(t, checkTransition(PhaseIdle, PhasePlanning))
	assert.ErrorIs(t, checkTransition(PhaseDone, PhasePatching), ErrInvalidPhase)
	assert.True(t, PhaseCancelled.Terminal())
	assert.False(t, PhaseAwaitingApproval.Terminal())
}
