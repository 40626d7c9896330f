package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/rahul/autopilot/internal/llm"
	"github.com/rahul/autopilot/internal/store"
	"github.com/rahul/autopilot/internal/tools"
)

// Planner turns a goal into a validated plan with one text-generation call.
type Planner struct {
	gen     llm.Generator
	prompts *PromptManager
	now     func() time.Time
}

func NewPlanner(gen llm.Generator, prompts *PromptManager) *Planner {
	if prompts == nil {
		prompts = NewPromptManager("")
	}
	return &Planner{gen: gen, prompts: prompts, now: time.Now}
}

// Generate asks for a plan and validates it. There are no retries: a
// malformed answer is returned as ErrPlanGeneration.
func (p *Planner) Generate(ctx context.Context, goal string, capabilities []tools.Info) (*store.Plan, error) {
	system, err := p.prompts.GetPlannerPrompt()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanGeneration, err)
	}

	log.Printf("[Planner] Generating plan for goal: %s", goal)
	text, err := p.gen.Generate(ctx, planPrompt(goal, capabilities), system)
	if err != nil {
		if llm.IsTokenLimitError(err) {
			return nil, fmt.Errorf("%w: %w", ErrTokenLimit, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrPlanGeneration, err)
	}

	plan, err := ParsePlan(text, goal, capabilities)
	if err != nil {
		return nil, err
	}
	plan.GeneratedAt = p.now()
	plan.Status = store.PlanPendingApproval
	log.Printf("[Planner] Plan generated with %d steps (%s risk, %s)", len(plan.Steps), plan.RiskLevel, plan.EstimatedComplexity)
	return plan, nil
}

func planPrompt(goal string, capabilities []tools.Info) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n\n", goal)
	b.WriteString("Available capabilities:\n")
	b.WriteString(tools.FormatInfos(capabilities))
	b.WriteString("\nGenerate the execution plan.")
	return b.String()
}

type rawStep struct {
	ID          json.Number    `json:"id"`
	Description string         `json:"description"`
	Capability  string         `json:"capability"`
	Operation   string         `json:"operation"`
	Agent       string         `json:"agent"`
	Action      string         `json:"action"`
	Params      map[string]any `json:"params"`
}

type rawPlan struct {
	Goal                  string    `json:"goal"`
	Steps                 []rawStep `json:"steps"`
	RiskLevel             string    `json:"risk_level"`
	EstimatedComplexity   string    `json:"estimated_complexity"`
	FilesExpectedToChange []string  `json:"files_expected_to_change"`
}

// ParsePlan extracts the first JSON object from text, normalises it and
// checks it with ValidatePlan.
func ParsePlan(text, goal string, capabilities []tools.Info) (*store.Plan, error) {
	var raw rawPlan
	if err := llm.DecodeObject(text, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPlanGeneration, err)
	}

	steps := make([]store.Step, 0, len(raw.Steps))
	for _, rs := range raw.Steps {
		// An id that is not an integer stays 0 and is reported below.
		id, _ := rs.ID.Int64()
		steps = append(steps, store.Step{
			ID:          int(id),
			Description: strings.TrimSpace(rs.Description),
			Capability:  firstNonEmpty(rs.Capability, rs.Agent),
			Operation:   firstNonEmpty(rs.Operation, rs.Action),
			Params:      rs.Params,
		})
	}

	planGoal := strings.TrimSpace(raw.Goal)
	if planGoal == "" {
		planGoal = goal
	}
	plan := &store.Plan{
		Goal:                  planGoal,
		Steps:                 steps,
		RiskLevel:             store.RiskLevel(strings.ToUpper(strings.TrimSpace(raw.RiskLevel))),
		EstimatedComplexity:   store.Complexity(strings.ToUpper(strings.TrimSpace(raw.EstimatedComplexity))),
		FilesExpectedToChange: raw.FilesExpectedToChange,
		Status:                store.PlanPendingApproval,
	}
	if err := ValidatePlan(plan, capabilities); err != nil {
		return nil, err
	}
	return plan, nil
}

// ValidatePlan checks a plan against the plan schema: at least one step, ids
// numbered 1..n in order, a description and a capability operation on every
// step, and known risk and complexity values. When capabilities is non-nil
// every step must name one of them and one of its operations. All problems
// are reported together.
func ValidatePlan(plan *store.Plan, capabilities []tools.Info) error {
	if plan == nil {
		return fmt.Errorf("%w: no plan", ErrPlanGeneration)
	}

	var problems []string
	if len(plan.Steps) == 0 {
		problems = append(problems, "plan has no steps")
	}

	var known map[string]map[string]bool
	if capabilities != nil {
		known = make(map[string]map[string]bool, len(capabilities))
		for _, c := range capabilities {
			ops := make(map[string]bool, len(c.Operations))
			for _, op := range c.Operations {
				ops[op.Name] = true
			}
			known[c.Name] = ops
		}
	}

	seen := make(map[int]bool, len(plan.Steps))
	for n, s := range plan.Steps {
		switch {
		case s.ID <= 0:
			problems = append(problems, fmt.Sprintf("step %d: id must be a positive integer", n+1))
		case seen[s.ID]:
			problems = append(problems, fmt.Sprintf("step %d: duplicate id %d", n+1, s.ID))
		case s.ID != n+1:
			problems = append(problems, fmt.Sprintf("step %d: id %d out of sequence, expected %d", n+1, s.ID, n+1))
		}
		seen[s.ID] = true

		if strings.TrimSpace(s.Description) == "" {
			problems = append(problems, fmt.Sprintf("step %d: missing description", n+1))
		}
		if s.Capability == "" || s.Operation == "" {
			problems = append(problems, fmt.Sprintf("step %d: missing capability or operation", n+1))
		} else if known != nil {
			ops, ok := known[s.Capability]
			switch {
			case !ok:
				problems = append(problems, fmt.Sprintf("step %d: unknown capability %q", n+1, s.Capability))
			case !ops[s.Operation]:
				problems = append(problems, fmt.Sprintf("step %d: capability %q has no operation %q", n+1, s.Capability, s.Operation))
			}
		}
	}

	if !plan.RiskLevel.Valid() {
		problems = append(problems, "invalid risk_level. Must be one of: LOW, MEDIUM, HIGH, CRITICAL")
	}
	if !plan.EstimatedComplexity.Valid() {
		problems = append(problems, "invalid estimated_complexity. Must be one of: SIMPLE, MODERATE, COMPLEX, VERY_COMPLEX")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrPlanGeneration, strings.Join(problems, "; "))
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// FormatPlan renders a plan for operator review.
func FormatPlan(plan *store.Plan) string {
	if plan == nil {
		return "No plan."
	}
	rule := strings.Repeat("=", 60)
	thin := strings.Repeat("-", 60)

	var b strings.Builder
	b.WriteString(rule + "\n")
	b.WriteString("AGENT MODE - EXECUTION PLAN\n")
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "\nGOAL: %s\n", plan.Goal)
	fmt.Fprintf(&b, "RISK LEVEL: %s\n", plan.RiskLevel)
	fmt.Fprintf(&b, "COMPLEXITY: %s\n", plan.EstimatedComplexity)
	fmt.Fprintf(&b, "\nSTEPS (%d):\n", len(plan.Steps))
	b.WriteString(thin + "\n")

	for _, s := range plan.Steps {
		fmt.Fprintf(&b, "\n%d. %s\n", s.ID, s.Description)
		fmt.Fprintf(&b, "   Capability: %s | Operation: %s\n", s.Capability, s.Operation)
		if len(s.Params) > 0 {
			params, _ := json.Marshal(s.Params)
			fmt.Fprintf(&b, "   Params: %s\n", params)
		}
	}
	b.WriteString("\n" + thin + "\n")

	if len(plan.FilesExpectedToChange) > 0 {
		b.WriteString("\nEXPECTED FILE CHANGES:\n")
		for _, f := range plan.FilesExpectedToChange {
			fmt.Fprintf(&b, "  - %s\n", f)
		}
	}
	b.WriteString("\n" + rule)
	return b.String()
}
