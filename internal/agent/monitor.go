package agent

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rahul/autopilot/internal/store"
)

type Messenger interface {
	Send(chatID string, text string) error
}

// ProgressSource is the read-only view the monitor polls.
type ProgressSource interface {
	ProgressSummary() store.ProgressSummary
}

// ProgressMonitor reports execution progress to a chat whenever it changes.
// It only ever reads the execution state.
type ProgressMonitor struct {
	Source   ProgressSource
	Gateway  Messenger
	ChatID   string
	Interval time.Duration

	last string
}

func NewProgressMonitor(source ProgressSource, gateway Messenger, chatID string) *ProgressMonitor {
	return &ProgressMonitor{
		Source:   source,
		Gateway:  gateway,
		ChatID:   chatID,
		Interval: 30 * time.Second,
	}
}

func (m *ProgressMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	log.Println("Progress monitor started...")
	m.last = progressKey(m.Source.ProgressSummary())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

// poll sends one notification when the summary differs from the last one seen.
func (m *ProgressMonitor) poll() bool {
	s := m.Source.ProgressSummary()
	key := progressKey(s)
	if key == m.last {
		return false
	}
	m.last = key
	if s.RunID == "" || m.Gateway == nil || m.ChatID == "" {
		return false
	}
	if err := m.Gateway.Send(m.ChatID, FormatProgress(s)); err != nil {
		log.Printf("Error sending progress update: %v", err)
	}
	return true
}

func progressKey(s store.ProgressSummary) string {
	return fmt.Sprintf("%s|%s|%d|%d|%d", s.RunID, s.Status, s.CompletedSteps, s.ErrorsCount, s.ResumeCount)
}

// FormatProgress renders a summary for chat.
func FormatProgress(s store.ProgressSummary) string {
	if s.RunID == "" {
		return s.Message
	}
	return fmt.Sprintf("*Execution %s*\nGoal: %s\nProgress: %d/%d steps (%.0f%%)\nRetries: %d | Resumes: %d | Errors: %d",
		s.Status, s.Goal, s.CompletedSteps, s.TotalSteps, s.ProgressPercentage, s.RetryCount, s.ResumeCount, s.ErrorsCount)
}
