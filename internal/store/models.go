package store

import (
	"encoding/json"
	"time"
)

// RiskLevel is the planner's assessment of how dangerous a plan is.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Valid reports whether r is one of the enumerated risk levels.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Complexity is the planner's size estimate for a plan.
type Complexity string

const (
	ComplexitySimple      Complexity = "SIMPLE"
	ComplexityModerate    Complexity = "MODERATE"
	ComplexityComplex     Complexity = "COMPLEX"
	ComplexityVeryComplex Complexity = "VERY_COMPLEX"
)

func (c Complexity) Valid() bool {
	switch c {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex, ComplexityVeryComplex:
		return true
	}
	return false
}

type PlanStatus string

const (
	PlanPendingApproval PlanStatus = "pending_approval"
	PlanApproved        PlanStatus = "approved"
	PlanSuperseded      PlanStatus = "superseded"
)

// Step is one atomic operation in a plan, bound to a capability.
type Step struct {
	ID          int            `json:"id"`
	Description string         `json:"description"`
	Capability  string         `json:"capability"`
	Operation   string         `json:"operation"`
	Params      map[string]any `json:"params,omitempty"`
}

// Plan represents a sequence of steps to fulfill a goal.
type Plan struct {
	Goal                  string     `json:"goal"`
	Steps                 []Step     `json:"steps"`
	RiskLevel             RiskLevel  `json:"risk_level"`
	EstimatedComplexity   Complexity `json:"estimated_complexity"`
	FilesExpectedToChange []string   `json:"files_expected_to_change,omitempty"`
	Status                PlanStatus `json:"status"`
	GeneratedAt           time.Time  `json:"generated_at"`
}

// Clone returns a deep copy so callers can never mutate a plan held by the store.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	var out Plan
	data, err := json.Marshal(p)
	if err == nil && json.Unmarshal(data, &out) == nil {
		return &out
	}
	// Params that cannot round-trip through JSON are shared rather than lost.
	out = *p
	out.Steps = append([]Step(nil), p.Steps...)
	out.FilesExpectedToChange = append([]string(nil), p.FilesExpectedToChange...)
	return &out
}

// ExecutionStatus is the lifecycle state of a persisted execution.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

type ErrorRecord struct {
	Error     string    `json:"error"`
	StepIndex *int      `json:"step_index,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ResultRecord struct {
	StepIndex int       `json:"step_index"`
	Success   bool      `json:"success"`
	Result    string    `json:"result,omitempty"`
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionState is the durable record of progress through a plan.
type ExecutionState struct {
	RunID                string          `json:"run_id"`
	Goal                 string          `json:"goal"`
	Plan                 *Plan           `json:"plan"`
	CurrentStepIndex     int             `json:"current_step_index"`
	CompletedStepIndices []int           `json:"completed_step_indices"`
	RemainingStepIndices []int           `json:"remaining_step_indices"`
	RetryCount           int             `json:"retry_count"`
	ResumeCount          int             `json:"resume_count"`
	Status               ExecutionStatus `json:"status"`
	StartedAt            time.Time       `json:"started_at"`
	LastUpdated          time.Time       `json:"last_updated"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
	Errors               []ErrorRecord   `json:"errors"`
	Results              []ResultRecord  `json:"results"`
}

func (s *ExecutionState) clone() *ExecutionState {
	out := *s
	out.Plan = s.Plan.Clone()
	out.CompletedStepIndices = append([]int{}, s.CompletedStepIndices...)
	out.RemainingStepIndices = append([]int{}, s.RemainingStepIndices...)
	out.Errors = append([]ErrorRecord{}, s.Errors...)
	out.Results = append([]ResultRecord{}, s.Results...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// IsCompleted reports whether step index i has been completed successfully.
func (s *ExecutionState) IsCompleted(i int) bool {
	return containsIndex(s.CompletedStepIndices, i)
}

// ProgressSummary is a derived, read-only view of an execution for observability.
type ProgressSummary struct {
	Active             bool            `json:"active"`
	RunID              string          `json:"run_id,omitempty"`
	Goal               string          `json:"goal,omitempty"`
	Status             ExecutionStatus `json:"status,omitempty"`
	TotalSteps         int             `json:"total_steps"`
	CompletedSteps     int             `json:"completed_steps"`
	CurrentStep        int             `json:"current_step"`
	ProgressPercentage float64         `json:"progress_percentage"`
	RetryCount         int             `json:"retry_count"`
	ResumeCount        int             `json:"resume_count"`
	ErrorsCount        int             `json:"errors_count"`
	StartedAt          time.Time       `json:"started_at,omitempty"`
	LastUpdated        time.Time       `json:"last_updated,omitempty"`
	Message            string          `json:"message,omitempty"`
}

func containsIndex(list []int, i int) bool {
	for _, v := range list {
		if v == i {
			return true
		}
	}
	return false
}

func removeIndex(list []int, i int) []int {
	out := list[:0]
	for _, v := range list {
		if v != i {
			out = append(out, v)
		}
	}
	return out
}
