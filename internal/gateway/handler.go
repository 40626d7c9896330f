package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/rahul/autopilot/internal/agent"
	"github.com/rahul/autopilot/internal/governance"
	"github.com/rahul/autopilot/internal/vcs"
)

const helpText = `Send a goal in plain text to get an execution plan.

/approve - execute the pending plan
/reject - discard the pending plan
/resume - continue an interrupted execution
/abort - stop the running execution before its next step
/status - show phase and progress
/ack - clear a finished execution record
/push <branch> <confirmation> [force] - publish a prepared branch
/level [LEVEL <admin token>] - show or change the permission level`

// Handler turns operator chat messages into orchestrator calls.
type Handler struct {
	Operator Operator
	History  ChatLog
	Levels   LevelControl
}

func NewHandler(op Operator, history ChatLog, levels LevelControl) *Handler {
	return &Handler{Operator: op, History: history, Levels: levels}
}

// Handle answers one message. An empty reply means nothing to send.
func (h *Handler) Handle(ctx context.Context, chatID, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	h.record(chatID, "user", text)
	reply := h.dispatch(ctx, text)
	h.record(chatID, "assistant", reply)
	return reply
}

func (h *Handler) record(chatID, role, content string) {
	if h.History == nil {
		return
	}
	if err := h.History.AddMessage(chatID, role, content); err != nil {
		log.Printf("Error saving message: %v", err)
	}
}

func (h *Handler) dispatch(ctx context.Context, text string) string {
	if !strings.HasPrefix(text, "/") {
		out, err := h.Operator.HandleTask(ctx, text)
		return reply(out, err)
	}

	args := strings.Fields(text)
	cmd := strings.ToLower(args[0])
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	args = args[1:]

	switch cmd {
	case "/start", "/help":
		return helpText
	case "/status":
		return FormatStatus(h.Operator.Status())
	case "/approve":
		out, err := h.Operator.Approve(ctx, nil)
		return reply(out, err)
	case "/reject":
		if err := h.Operator.Reject(); err != nil {
			return reply(nil, err)
		}
		return "Plan rejected."
	case "/resume":
		out, err := h.Operator.Resume(ctx)
		return reply(out, err)
	case "/abort":
		if err := h.Operator.Abort(); err != nil {
			return reply(nil, err)
		}
		return "Abort requested. The execution stops before its next step."
	case "/ack":
		if err := h.Operator.Acknowledge(); err != nil {
			return reply(nil, err)
		}
		return "Execution record cleared."
	case "/push":
		return h.push(ctx, args)
	case "/level":
		return h.level(args)
	default:
		return fmt.Sprintf("Unknown command %s. Send /help for the list.", cmd)
	}
}

func (h *Handler) push(ctx context.Context, args []string) string {
	if len(args) < 2 {
		return "Usage: /push <branch> <confirmation> [force]"
	}
	c := vcs.Confirmation{Token: args[1], Force: len(args) > 2 && strings.EqualFold(args[2], "force")}
	if err := h.Operator.Push(ctx, args[0], c); err != nil {
		return reply(nil, err)
	}
	return fmt.Sprintf("Branch %s pushed.", args[0])
}

func (h *Handler) level(args []string) string {
	if h.Levels == nil {
		return "Permission level is fixed by configuration."
	}
	if len(args) == 0 {
		return fmt.Sprintf("Permission level: %s", h.Levels.Level())
	}
	if len(args) < 2 {
		return "Usage: /level <LEVEL> <admin token>"
	}
	lvl, err := governance.ParseLevel(args[0])
	if err != nil {
		return reply(nil, err)
	}
	if err := h.Levels.SetLevel(lvl, args[1]); err != nil {
		return reply(nil, err)
	}
	return fmt.Sprintf("Permission level set to %s.", lvl)
}

func reply(out *agent.Outcome, err error) string {
	if out != nil {
		return FormatOutcome(out)
	}
	switch {
	case errors.Is(err, agent.ErrBusy):
		return "Another request is in progress. Try again when it finishes, or /abort it."
	case errors.Is(err, agent.ErrNoPendingPlan):
		return "There is no plan awaiting approval."
	case errors.Is(err, agent.ErrNoExecution):
		return "There is no execution."
	case err != nil:
		return "Error: " + err.Error()
	}
	return ""
}

// FormatOutcome renders the result of an orchestrator call for chat.
func FormatOutcome(out *agent.Outcome) string {
	var b strings.Builder
	if out.RequiresApproval {
		b.WriteString(agent.FormatPlan(out.Plan))
		b.WriteString("\n\n" + out.Message)
		b.WriteString("\nReply /approve to execute or /reject to discard.")
		return b.String()
	}

	b.WriteString(out.Message)
	if out.TotalSteps > 0 {
		fmt.Fprintf(&b, "\nProgress: %d/%d steps", out.CompletedSteps, out.TotalSteps)
	}
	if v := out.Validation; v != nil && !v.Success {
		b.WriteString("\nValidation errors:")
		for _, e := range v.Errors {
			b.WriteString("\n  - " + e)
		}
	}
	if p := out.Prepared; p != nil {
		fmt.Fprintf(&b, "\n\nBranch: %s (from %s)\nFiles: %s", p.BranchName, p.BaseBranch, strings.Join(p.ChangedFiles, ", "))
		if p.DiffPreview != "" {
			b.WriteString("\n\n" + p.DiffPreview)
		}
		fmt.Fprintf(&b, "\n\nReply /push %s <confirmation> to publish it.", p.BranchName)
	}
	if out.VCSError != "" {
		b.WriteString("\nVersion control: " + out.VCSError)
	}
	switch {
	case out.Resumable && out.CanRetry:
		b.WriteString("\nReply /resume to continue.")
	case out.Phase == agent.PhaseFailed && out.CanRetry:
		b.WriteString("\nReply /resume to retry the remaining steps.")
	case out.Phase == agent.PhaseFailed:
		b.WriteString("\nNo retries left. Reply /ack and send the goal again.")
	}
	return b.String()
}

// FormatStatus renders the orchestrator phase and progress.
func FormatStatus(s agent.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Phase: %s\n", s.Phase)
	b.WriteString(agent.FormatProgress(s.Progress))
	if s.Pending != nil {
		fmt.Fprintf(&b, "\nPlan awaiting approval: %s (%d steps)", s.Pending.Goal, len(s.Pending.Steps))
	}
	return b.String()
}
