package governance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// AuditRecord is one permission decision.
type AuditRecord struct {
	Timestamp time.Time
	Operation string
	Detail    string
	Outcome   string
}

// Line renders the record as `timestamp | operation | detail | outcome`.
func (r AuditRecord) Line() string {
	return fmt.Sprintf("%s | %s | %s | %s",
		r.Timestamp.Format(time.RFC3339),
		escapeField(r.Operation),
		escapeField(r.Detail),
		escapeField(r.Outcome),
	)
}

// AuditSink receives every decision the gate makes.
type AuditSink interface {
	Append(rec AuditRecord) error
}

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc func(rec AuditRecord) error

func (f AuditSinkFunc) Append(rec AuditRecord) error {
	return f(rec)
}

// MultiAudit writes each record to every sink and joins their errors.
type MultiAudit []AuditSink

func (m MultiAudit) Append(rec AuditRecord) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Append(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FileAudit is an append-only audit log file.
type FileAudit struct {
	mu   sync.Mutex
	path string
}

func NewFileAudit(path string) (*FileAudit, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &FileAudit{path: path}, nil
}

func (a *FileAudit) Append(rec AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	_, err = f.WriteString(rec.Line() + "\n")
	return err
}

func escapeField(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
