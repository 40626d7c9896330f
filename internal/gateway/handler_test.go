package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/autopilot/internal/agent"
	"github.com/rahul/autopilot/internal/governance"
	"github.com/rahul/autopilot/internal/store"
	"github.com/rahul/autopilot/internal/validation"
	"github.com/rahul/autopilot/internal/vcs"
)

type fakeOperator struct {
	calls   []string
	outcome *agent.Outcome
	err     error
	pushed  vcs.Confirmation
	status  agent.Status
}

func (f *fakeOperator) HandleTask(ctx context.Context, goal string) (*agent.Outcome, error) {
	f.calls = append(f.calls, "task:"+goal)
	return f.outcome, f.err
}

func (f *fakeOperator) Approve(ctx context.Context, plan *store.Plan) (*agent.Outcome, error) {
	f.calls = append(f.calls, "approve")
	return f.outcome, f.err
}

func (f *fakeOperator) Reject() error {
	f.calls = append(f.calls, "reject")
	return f.err
}

func (f *fakeOperator) Resume(ctx context.Context) (*agent.Outcome, error) {
	f.calls = append(f.calls, "resume")
	return f.outcome, f.err
}

func (f *fakeOperator) Abort() error {
	f.calls = append(f.calls, "abort")
	return f.err
}

func (f *fakeOperator) Acknowledge() error {
	f.calls = append(f.calls, "ack")
	return f.err
}

func (f *fakeOperator) Push(ctx context.Context, branch string, c vcs.Confirmation) error {
	f.calls = append(f.calls, "push:"+branch)
	f.pushed = c
	return f.err
}

func (f *fakeOperator) Status() agent.Status { return f.status }

type memChat struct{ lines []string }

func (m *memChat) AddMessage(chatID, role, content string) error {
	m.lines = append(m.lines, chatID+"/"+role)
	return nil
}

type fakeLevels struct{ lvl governance.Level }

func (f *fakeLevels) Level() governance.Level { return f.lvl }

func (f *fakeLevels) SetLevel(level governance.Level, token string) error {
	if token != "secret" {
		return errors.New("invalid admin token")
	}
	f.lvl = level
	return nil
}

func TestHandler_PlainTextIsAGoal(t *testing.T) {
	op := &fakeOperator{outcome: &agent.Outcome{
		Phase:            agent.PhaseAwaitingApproval,
		RequiresApproval: true,
		Plan: &store.Plan{Goal: "make hello", RiskLevel: store.RiskLow, EstimatedComplexity: store.ComplexitySimple,
			Steps: []store.Step{{ID: 1, Description: "Write hello", Capability: "filesystem", Operation: "write_file"}}},
		Message: "Plan generated. Please review and approve before execution.",
	}}
	chat := &memChat{}
	h := NewHandler(op, chat, nil)

	out := h.Handle(context.Background(), "7", "  make hello  ")
	assert.Equal(t, []string{"task:make hello"}, op.calls)
	assert.Contains(t, out, "AGENT MODE - EXECUTION PLAN")
	assert.Contains(t, out, "1. Write hello")
	assert.Contains(t, out, "/approve")
	assert.Equal(t, []string{"7/user", "7/assistant"}, chat.lines)

	assert.Empty(t, h.Handle(context.Background(), "7", "   "))
}

func TestHandler_Commands(t *testing.T) {
	tests := []struct {
		text string
		call string
		want string
	}{
		{"/approve", "approve", ""},
		{"/reject", "reject", "Plan rejected."},
		{"/resume", "resume", ""},
		{"/abort", "abort", "Abort requested"},
		{"/ack", "ack", "Execution record cleared."},
		{"/ACK@autopilot_bot", "ack", "Execution record cleared."},
		{"/push agent-20260101-120000 yes", "push:agent-20260101-120000", "pushed"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			op := &fakeOperator{outcome: &agent.Outcome{Phase: agent.PhaseDone, Message: "Execution completed successfully."}}
			out := NewHandler(op, nil, nil).Handle(context.Background(), "1", tt.text)
			require.Equal(t, []string{tt.call}, op.calls)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestHandler_PushNeedsConfirmation(t *testing.T) {
	op := &fakeOperator{}
	h := NewHandler(op, nil, nil)

	out := h.Handle(context.Background(), "1", "/push agent-x")
	assert.Contains(t, out, "Usage: /push")
	assert.Empty(t, op.calls)

	h.Handle(context.Background(), "1", "/push agent-x ok force")
	assert.Equal(t, vcs.Confirmation{Token: "ok", Force: true}, op.pushed)
}

func TestHandler_Errors(t *testing.T) {
	op := &fakeOperator{err: agent.ErrBusy}
	h := NewHandler(op, nil, nil)
	assert.Contains(t, h.Handle(context.Background(), "1", "/approve"), "Another request is in progress")

	op.err = agent.ErrNoPendingPlan
	assert.Equal(t, "There is no plan awaiting approval.", h.Handle(context.Background(), "1", "/reject"))

	op.err = errors.New("disk on fire")
	assert.Equal(t, "Error: disk on fire", h.Handle(context.Background(), "1", "/ack"))

	assert.Contains(t, h.Handle(context.Background(), "1", "/frobnicate"), "Unknown command /frobnicate")
	assert.Contains(t, h.Handle(context.Background(), "1", "/help"), "/resume")
}

func TestHandler_Level(t *testing.T) {
	levels := &fakeLevels{lvl: governance.LevelStandard}
	h := NewHandler(&fakeOperator{}, nil, levels)

	assert.Equal(t, "Permission level: STANDARD", h.Handle(context.Background(), "1", "/level"))
	assert.Contains(t, h.Handle(context.Background(), "1", "/level ROOT wrong"), "invalid admin token")
	assert.Equal(t, governance.LevelStandard, levels.lvl)
	assert.Equal(t, "Permission level set to ROOT.", h.Handle(context.Background(), "1", "/level root secret"))
	assert.Equal(t, governance.LevelRoot, levels.lvl)

	assert.Contains(t, NewHandler(&fakeOperator{}, nil, nil).Handle(context.Background(), "1", "/level"), "fixed by configuration")
}

func TestFormatOutcome(t *testing.T) {
	out := FormatOutcome(&agent.Outcome{
		Phase:          agent.PhaseDone,
		Completed:      true,
		CompletedSteps: 2,
		TotalSteps:     2,
		Message:        "Execution completed successfully. Changes committed on branch agent-1. Confirm to push.",
		Prepared: &vcs.Prepared{BranchName: "agent-1", BaseBranch: "main", ChangedFiles: []string{"a.go", "b.go"},
			DiffPreview: " a.go | 2 +-"},
	})
	assert.Contains(t, out, "Progress: 2/2 steps")
	assert.Contains(t, out, "Branch: agent-1 (from main)")
	assert.Contains(t, out, "Files: a.go, b.go")
	assert.Contains(t, out, "/push agent-1 <confirmation>")
	assert.NotContains(t, out, "/resume")

	failed := FormatOutcome(&agent.Outcome{
		Phase:      agent.PhaseFailed,
		CanRetry:   true,
		Message:    "final validation failed",
		Validation: &validation.Report{Errors: []string{"Missing expected file: x.go"}},
	})
	assert.Contains(t, failed, "  - Missing expected file: x.go")
	assert.Contains(t, failed, "/resume to retry")

	exhausted := FormatOutcome(&agent.Outcome{Phase: agent.PhaseFailed, Message: "boom"})
	assert.Contains(t, exhausted, "No retries left")
}

func TestFormatStatus(t *testing.T) {
	out := FormatStatus(agent.Status{
		Phase:    agent.PhaseAwaitingApproval,
		Progress: store.ProgressSummary{Message: "No active execution"},
		Pending:  &store.Plan{Goal: "ship", Steps: make([]store.Step, 3)},
	})
	assert.True(t, strings.HasPrefix(out, "Phase: AWAITING_APPROVAL\nNo active execution"))
	assert.Contains(t, out, "Plan awaiting approval: ship (3 steps)")
}

func TestChunk(t *testing.T) {
	assert.Equal(t, []string{"abc"}, chunk("abc", 10))
	assert.Nil(t, chunk("", 10))

	parts := chunk("aaaa\nbbbb\ncc", 6)
	assert.Equal(t, []string{"aaaa\n", "bbbb\n", "cc"}, parts)

	long := strings.Repeat("x", 25)
	parts = chunk(long, 10)
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), "xxxxx"}, parts)
}
