package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultStatePath is where the execution record lives unless configured otherwise.
const DefaultStatePath = "data/agent_execution_state.json"

var (
	ErrNoExecution        = errors.New("no execution state")
	ErrExecutionActive    = errors.New("an execution is already running")
	ErrExecutionCompleted = errors.New("execution already completed")
	ErrResumeLimitReached = errors.New("resume attempt ceiling reached")
	ErrStepOutOfRange     = errors.New("step index out of range")
)

// StateStore is the single source of truth for resuming an execution.
// All mutations are serialised and persisted as a whole-record replace.
type StateStore struct {
	mu      sync.Mutex
	path    string
	current *ExecutionState
	now     func() time.Time
}

// NewStateStore opens the store at path, loading any record left behind by a
// previous process. A missing file means there is no execution.
func NewStateStore(path string) (*StateStore, error) {
	if path == "" {
		path = DefaultStatePath
	}
	s := &StateStore{path: path, now: time.Now}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *StateStore) Path() string {
	return s.path
}

// Initialize creates a fresh execution for an approved plan. It refuses to
// replace a running execution; callers that want to supersede it must Clear first.
func (s *StateStore) Initialize(goal string, plan *Plan) (*ExecutionState, error) {
	if plan == nil || len(plan.Steps) == 0 {
		return nil, fmt.Errorf("initialize execution: plan has no steps")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.Status == StatusRunning {
		return nil, ErrExecutionActive
	}

	now := s.now()
	approved := plan.Clone()
	approved.Status = PlanApproved

	remaining := make([]int, len(plan.Steps))
	for i := range remaining {
		remaining[i] = i
	}

	next := &ExecutionState{
		RunID:                uuid.NewString(),
		Goal:                 goal,
		Plan:                 approved,
		CurrentStepIndex:     0,
		CompletedStepIndices: []int{},
		RemainingStepIndices: remaining,
		Status:               StatusRunning,
		StartedAt:            now,
		LastUpdated:          now,
		Errors:               []ErrorRecord{},
		Results:              []ResultRecord{},
	}
	if err := s.save(next); err != nil {
		return nil, err
	}
	s.current = next

	log.Printf("[State] Initialized execution %s for goal: %s", next.RunID, goal)
	return next.clone(), nil
}

func (s *StateStore) UpdateCurrentStep(i int) error {
	return s.mutate(func(st *ExecutionState) error {
		if err := checkRange(st, i); err != nil {
			return err
		}
		st.CurrentStepIndex = i
		return nil
	})
}

// MarkStepComplete records the outcome of one attempt at step i. A successful
// attempt moves i from remaining to completed and resets the retry counter; a
// repeated success for an already completed step changes nothing. A failed
// attempt is recorded and counted but the step stays remaining so that a
// later resume runs it again.
func (s *StateStore) MarkStepComplete(i int, success bool, result string) error {
	return s.mutate(func(st *ExecutionState) error {
		if err := checkRange(st, i); err != nil {
			return err
		}
		if success && st.IsCompleted(i) {
			return nil
		}

		st.Results = append(st.Results, ResultRecord{
			StepIndex: i,
			Success:   success,
			Result:    result,
			Attempt:   st.RetryCount + 1,
			Timestamp: s.now(),
		})

		if !success {
			st.RetryCount++
			return nil
		}

		st.RemainingStepIndices = removeIndex(st.RemainingStepIndices, i)
		st.CompletedStepIndices = append(st.CompletedStepIndices, i)
		sort.Ints(st.CompletedStepIndices)
		st.RetryCount = 0
		return nil
	})
}

func (s *StateStore) AddError(msg string, stepIndex *int) error {
	return s.mutate(func(st *ExecutionState) error {
		rec := ErrorRecord{Error: msg, Timestamp: s.now()}
		if stepIndex != nil {
			idx := *stepIndex
			rec.StepIndex = &idx
		}
		st.Errors = append(st.Errors, rec)
		return nil
	})
}

func (s *StateStore) MarkExecutionComplete(success bool) error {
	return s.mutate(func(st *ExecutionState) error {
		st.Status = StatusFailed
		if success {
			st.Status = StatusCompleted
		}
		now := s.now()
		st.CompletedAt = &now
		return nil
	})
}

// MarkCancelled records an operator abort. The record keeps its remaining
// steps and stays resumable.
func (s *StateStore) MarkCancelled() error {
	return s.mutate(func(st *ExecutionState) error {
		st.Status = StatusCancelled
		return nil
	})
}

// BeginResume atomically checks the resume ceiling, increments the resume
// counter and puts the execution back into the running state. When the
// ceiling is reached the record is left untouched. A record with no
// remaining steps that never completed still resumes into final validation.
func (s *StateStore) BeginResume(maxAttempts int) (*ExecutionState, error) {
	var out *ExecutionState
	err := s.mutate(func(st *ExecutionState) error {
		if st.Status == StatusCompleted {
			return ErrExecutionCompleted
		}
		if st.ResumeCount >= maxAttempts {
			return ErrResumeLimitReached
		}
		st.ResumeCount++
		st.Status = StatusRunning
		st.CompletedAt = nil
		if len(st.RemainingStepIndices) > 0 {
			st.CurrentStepIndex = st.RemainingStepIndices[0]
		}
		out = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.clone(), nil
}

// HasActiveExecution reports whether an execution is currently running.
func (s *StateStore) HasActiveExecution() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && s.current.Status == StatusRunning
}

// State returns a copy of the current record.
func (s *StateStore) State() (*ExecutionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, false
	}
	return s.current.clone(), true
}

// Clear deletes the persisted record.
func (s *StateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state file: %w", err)
	}
	s.current = nil
	log.Printf("[State] Execution state cleared")
	return nil
}

func (s *StateStore) ProgressSummary() ProgressSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return ProgressSummary{Message: "No active execution."}
	}
	st := s.current
	total := 0
	if st.Plan != nil {
		total = len(st.Plan.Steps)
	}
	completed := len(st.CompletedStepIndices)
	pct := 0.0
	if total > 0 {
		pct = float64(completed) / float64(total) * 100
	}
	return ProgressSummary{
		Active:             st.Status == StatusRunning,
		RunID:              st.RunID,
		Goal:               st.Goal,
		Status:             st.Status,
		TotalSteps:         total,
		CompletedSteps:     completed,
		CurrentStep:        st.CurrentStepIndex,
		ProgressPercentage: pct,
		RetryCount:         st.RetryCount,
		ResumeCount:        st.ResumeCount,
		ErrorsCount:        len(st.Errors),
		StartedAt:          st.StartedAt,
		LastUpdated:        st.LastUpdated,
	}
}

// mutate applies fn to a copy of the record and swaps it in only after the
// copy has been persisted, so memory never runs ahead of disk.
func (s *StateStore) mutate(fn func(st *ExecutionState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return ErrNoExecution
	}
	next := s.current.clone()
	if err := fn(next); err != nil {
		return err
	}
	next.LastUpdated = s.now()
	if err := s.save(next); err != nil {
		return err
	}
	s.current = next
	return nil
}

// save writes the whole record to a temp file in the same directory and
// renames it over the old one.
func (s *StateStore) save(st *ExecutionState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal execution state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func (s *StateStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read state file: %w", err)
	}
	var st ExecutionState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode state file %s: %w", s.path, err)
	}
	if st.CompletedStepIndices == nil {
		st.CompletedStepIndices = []int{}
	}
	if st.RemainingStepIndices == nil {
		st.RemainingStepIndices = []int{}
	}
	s.current = &st
	log.Printf("[State] Loaded execution %s (%s) from %s", st.RunID, st.Status, s.path)
	return nil
}

func checkRange(st *ExecutionState, i int) error {
	if st.Plan == nil || i < 0 || i >= len(st.Plan.Steps) {
		return fmt.Errorf("%w: %d", ErrStepOutOfRange, i)
	}
	return nil
}
