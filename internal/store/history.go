package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// HistoryStore keeps the long-lived records that outlive a single execution:
// the audit trail, archived runs and the operator conversation.
type HistoryStore struct {
	DB *sql.DB
}

func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT,
			role TEXT,
			content TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			operation TEXT,
			detail TEXT,
			outcome TEXT,
			timestamp DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			goal TEXT,
			status TEXT,
			total_steps INTEGER,
			completed_steps INTEGER,
			resume_count INTEGER,
			started_at DATETIME,
			finished_at DATETIME,
			state_json TEXT
		);`,
	}
	for _, q := range queries {
		if _, err = db.Exec(q); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &HistoryStore{DB: db}, nil
}

func (h *HistoryStore) Close() error {
	return h.DB.Close()
}

func (h *HistoryStore) AddMessage(chatID string, role string, content string) error {
	query := `INSERT INTO messages (chat_id, role, content) VALUES (?, ?, ?)`
	_, err := h.DB.Exec(query, chatID, role, content)
	return err
}

// AuditEntry is one permission decision.
type AuditEntry struct {
	Operation string
	Detail    string
	Outcome   string
	Timestamp time.Time
}

// RecordAudit appends a permission decision to the audit table.
func (h *HistoryStore) RecordAudit(e AuditEntry) error {
	query := `INSERT INTO audit_log (operation, detail, outcome, timestamp) VALUES (?, ?, ?, ?)`
	_, err := h.DB.Exec(query, e.Operation, e.Detail, e.Outcome, e.Timestamp.UTC().Format(time.RFC3339Nano))
	return err
}

func (h *HistoryStore) RecentAudit(limit int) ([]AuditEntry, error) {
	query := `SELECT operation, detail, outcome, timestamp FROM audit_log ORDER BY id DESC LIMIT ?`
	rows, err := h.DB.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts string
		if err := rows.Scan(&e.Operation, &e.Detail, &e.Outcome, &ts); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RunSummary is a row of the run archive.
type RunSummary struct {
	RunID          string
	Goal           string
	Status         string
	TotalSteps     int
	CompletedSteps int
	ResumeCount    int
	StartedAt      time.Time
	FinishedAt     time.Time
}

// ArchiveRun stores a copy of a finished execution before its state file is cleared.
func (h *HistoryStore) ArchiveRun(st *ExecutionState) error {
	if st == nil {
		return fmt.Errorf("archive run: nil state")
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("archive run: %w", err)
	}
	total := 0
	if st.Plan != nil {
		total = len(st.Plan.Steps)
	}
	finished := st.LastUpdated
	if st.CompletedAt != nil {
		finished = *st.CompletedAt
	}
	query := `INSERT OR REPLACE INTO runs
		(run_id, goal, status, total_steps, completed_steps, resume_count, started_at, finished_at, state_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = h.DB.Exec(query,
		st.RunID, st.Goal, string(st.Status), total, len(st.CompletedStepIndices), st.ResumeCount,
		st.StartedAt.UTC().Format(time.RFC3339Nano), finished.UTC().Format(time.RFC3339Nano), string(data))
	return err
}

func (h *HistoryStore) ListRuns(limit int) ([]RunSummary, error) {
	query := `SELECT run_id, goal, status, total_steps, completed_steps, resume_count, started_at, finished_at
		FROM runs ORDER BY finished_at DESC LIMIT ?`
	rows, err := h.DB.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		var started, finished string
		if err := rows.Scan(&r.RunID, &r.Goal, &r.Status, &r.TotalSteps, &r.CompletedSteps, &r.ResumeCount, &started, &finished); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
