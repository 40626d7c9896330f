package observability

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	slogmulti "github.com/samber/slog-multi"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypePlan        EventType = "plan"
	EventTypePhase       EventType = "phase"
	EventTypeStep        EventType = "step"
	EventTypeValidation  EventType = "validation"
	EventTypePatch       EventType = "patch"
	EventTypeResume      EventType = "resume"
	EventTypeVCS         EventType = "vcs"
	EventTypePolicyCheck EventType = "policy_check"
	EventTypeHeartbeat   EventType = "heartbeat"
	EventTypeLLM         EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger handles structured logging. Every event goes to stdout and
// logs/events.jsonl; llm events are also kept in logs/llm.jsonl.
type Logger struct {
	events *slog.Logger
	llm    *slog.Logger
	files  []*rotatingFile
}

// NewLogger writes log files under dir. An empty dir logs to out only.
func NewLogger(dir string, out io.Writer) (*Logger, error) {
	if out == nil {
		out = os.Stdout
	}
	console := slog.NewJSONHandler(out, nil)
	if dir == "" {
		l := slog.New(console)
		return &Logger{events: l, llm: l}, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	eventsFile := newRotatingFile(filepath.Join(dir, "events.jsonl"), 10*1024*1024)
	llmFile := newRotatingFile(filepath.Join(dir, "llm.jsonl"), 10*1024*1024)
	eventsHandler := slog.NewJSONHandler(eventsFile, nil)

	return &Logger{
		events: slog.New(slogmulti.Fanout(console, eventsHandler)),
		llm:    slog.New(slogmulti.Fanout(console, eventsHandler, slog.NewJSONHandler(llmFile, nil))),
		files:  []*rotatingFile{eventsFile, llmFile},
	}, nil
}

// NewNopLogger discards everything.
func NewNopLogger() *Logger {
	l := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return &Logger{events: l, llm: l}
}

// Log emits a structured event.
func (l *Logger) Log(evt Event) {
	if l == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	target := l.events
	if evt.Type == EventTypeLLM {
		target = l.llm
	}
	attrs := []slog.Attr{
		slog.String("type", string(evt.Type)),
		slog.Time("timestamp", evt.Timestamp),
		slog.Any("data", evt.Data),
	}
	if evt.RunID != "" {
		attrs = append(attrs, slog.String("run_id", evt.RunID))
	}
	target.LogAttrs(context.Background(), slog.LevelInfo, string(evt.Type), attrs...)
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	for _, f := range l.files {
		f.Close()
	}
	return nil
}

// Helper methods for common events

func (l *Logger) LogPhase(runID, from, to string) {
	l.Log(Event{
		Type:  EventTypePhase,
		RunID: runID,
		Data:  map[string]string{"from": from, "to": to},
	})
}

func (l *Logger) LogPlan(runID string, plan any) {
	l.Log(Event{Type: EventTypePlan, RunID: runID, Data: plan})
}

func (l *Logger) LogStep(runID string, index int, capability, operation string, success bool, output string) {
	l.Log(Event{
		Type:  EventTypeStep,
		RunID: runID,
		Data: map[string]any{
			"index":      index,
			"capability": capability,
			"operation":  operation,
			"success":    success,
			"output":     truncate(output, 2000),
		},
	})
}

func (l *Logger) LogValidation(runID string, success bool, errs []string) {
	l.Log(Event{
		Type:  EventTypeValidation,
		RunID: runID,
		Data:  map[string]any{"success": success, "errors": errs},
	})
}

func (l *Logger) LogPatch(runID string, attempt int, applied bool, detail string) {
	l.Log(Event{
		Type:  EventTypePatch,
		RunID: runID,
		Data:  map[string]any{"attempt": attempt, "applied": applied, "detail": detail},
	})
}

func (l *Logger) LogResume(runID string, resumeCount int, remaining []int) {
	l.Log(Event{
		Type:  EventTypeResume,
		RunID: runID,
		Data:  map[string]any{"resume_count": resumeCount, "remaining": remaining},
	})
}

func (l *Logger) LogVCS(action string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["action"] = action
	l.Log(Event{Type: EventTypeVCS, Data: data})
}

func (l *Logger) LogPolicy(operation, detail, outcome string) {
	l.Log(Event{
		Type: EventTypePolicyCheck,
		Data: map[string]string{"operation": operation, "detail": detail, "outcome": outcome},
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}

func (l *Logger) LogLLM(task, prompt, response, errText string) {
	data := map[string]any{
		"task":     task,
		"prompt":   prompt,
		"response": response,
	}
	if errText != "" {
		data["error"] = errText
	}
	l.Log(Event{Type: EventTypeLLM, Data: data})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return Clip(s, n) + "...(truncated)"
}

// Clip cuts s to at most n bytes without splitting a UTF-8 sequence.
func Clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n < 0 {
		n = 0
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// rotatingFile is an append-only writer that keeps one .old generation.
type rotatingFile struct {
	mu      sync.Mutex
	path    string
	maxSize int64
	f       *os.File
	size    int64
}

func newRotatingFile(path string, maxSize int64) *rotatingFile {
	return &rotatingFile{path: path, maxSize: maxSize}
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f != nil && r.size+int64(len(p)) > r.maxSize {
		r.rotate()
	}
	if r.f == nil {
		if err := r.open(); err != nil {
			log.Printf("failed to open log file: %v", err)
			return 0, err
		}
		if r.size > r.maxSize {
			r.rotate()
			if err := r.open(); err != nil {
				return 0, err
			}
		}
	}
	n, err := r.f.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *rotatingFile) open() error {
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	r.f = f
	r.size = 0
	if info, err := f.Stat(); err == nil {
		r.size = info.Size()
	}
	return nil
}

func (r *rotatingFile) rotate() {
	// Simple rotation: keep one .old file
	r.f.Close()
	r.f = nil
	r.size = 0
	oldPath := r.path + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(r.path, oldPath)
}

func (r *rotatingFile) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f != nil {
		r.f.Close()
		r.f = nil
	}
}
