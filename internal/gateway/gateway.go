package gateway

import (
	"context"

	"github.com/rahul/autopilot/internal/agent"
	"github.com/rahul/autopilot/internal/governance"
	"github.com/rahul/autopilot/internal/store"
	"github.com/rahul/autopilot/internal/vcs"
)

// Messenger defines the interface for communication gateways (Telegram, Discord, etc.)
type Messenger interface {
	// Start begins the message listening loop
	Start() error
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

// Operator is the part of the orchestrator a chat can drive.
type Operator interface {
	HandleTask(ctx context.Context, goal string) (*agent.Outcome, error)
	Approve(ctx context.Context, plan *store.Plan) (*agent.Outcome, error)
	Reject() error
	Resume(ctx context.Context) (*agent.Outcome, error)
	Abort() error
	Acknowledge() error
	Push(ctx context.Context, branch string, c vcs.Confirmation) error
	Status() agent.Status
}

// ChatLog keeps the conversation with the operator.
type ChatLog interface {
	AddMessage(chatID string, role string, content string) error
}

// LevelControl changes the permission level at runtime.
type LevelControl interface {
	Level() governance.Level
	SetLevel(level governance.Level, token string) error
}

// chunk splits text into pieces no longer than n bytes, preferring line breaks.
func chunk(text string, n int) []string {
	var parts []string
	for len(text) > n {
		cut := n
		for i := n; i > n/2; i-- {
			if text[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}
