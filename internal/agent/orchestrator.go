// Package agent runs a goal from plan to prepared change set: it plans,
// waits for approval, executes steps one at a time behind the permission
// gate, validates and patches, and hands finished work to version control.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rahul/autopilot/internal/governance"
	"github.com/rahul/autopilot/internal/llm"
	"github.com/rahul/autopilot/internal/observability"
	"github.com/rahul/autopilot/internal/store"
	"github.com/rahul/autopilot/internal/tools"
	"github.com/rahul/autopilot/internal/validation"
	"github.com/rahul/autopilot/internal/vcs"
)

const (
	DefaultMaxStepRetries = 3

	// patchCapability applies and verifies patch file edits.
	patchCapability = "filesystem"
)

// PermissionChecker is the gate consulted before every side effect.
type PermissionChecker interface {
	Evaluate(ctx context.Context, req governance.Request) (governance.Result, error)
}

type Validator interface {
	Compile(ctx context.Context) (validation.CompileResult, error)
	Validate(ctx context.Context) (*validation.Report, error)
}

// ChangeSet prepares and pushes finished work.
type ChangeSet interface {
	PrepareForPush(ctx context.Context, summary vcs.Summary) (*vcs.Prepared, error)
	PushBranch(ctx context.Context, branch string, c vcs.Confirmation) error
}

type RunArchive interface {
	ArchiveRun(st *store.ExecutionState) error
}

// Deps are the collaborators an Orchestrator is built from. VCS, Archive,
// Logger and Metrics are optional.
type Deps struct {
	Planner   *Planner
	Patcher   *Patcher
	State     *store.StateStore
	Executor  *tools.Executor
	Gate      PermissionChecker
	Validator Validator
	VCS       ChangeSet
	Archive   RunArchive
	Logger    *observability.Logger
	Metrics   *observability.Metrics
}

type Options struct {
	MaxStepRetries    int
	MaxResumeAttempts int
	ContextTokens     int
}

// Outcome is what the operator sees after each call.
type Outcome struct {
	Phase            Phase              `json:"phase"`
	RunID            string             `json:"run_id,omitempty"`
	Plan             *store.Plan        `json:"plan,omitempty"`
	RequiresApproval bool               `json:"requires_approval"`
	Completed        bool               `json:"completed"`
	Resumed          bool               `json:"resumed"`
	Resumable        bool               `json:"resumable"`
	CanRetry         bool               `json:"can_retry"`
	CompletedSteps   int                `json:"completed_steps"`
	TotalSteps       int                `json:"total_steps"`
	Prepared         *vcs.Prepared      `json:"prepared,omitempty"`
	VCSError         string             `json:"vcs_error,omitempty"`
	Validation       *validation.Report `json:"validation,omitempty"`
	Message          string             `json:"message"`
}

// Status is a read-only snapshot for dashboards and gateways.
type Status struct {
	Phase    Phase                 `json:"phase"`
	Progress store.ProgressSummary `json:"progress"`
	Pending  *store.Plan           `json:"pending,omitempty"`
}

type Orchestrator struct {
	planner   *Planner
	patcher   *Patcher
	state     *store.StateStore
	registry  *tools.Registry
	executor  *tools.Executor
	gate      PermissionChecker
	validator Validator
	vcs       ChangeSet
	archive   RunArchive
	logger    *observability.Logger
	metrics   *observability.Metrics
	resume    *ResumeEngine

	MaxStepRetries int

	// run is held for the whole of planning, execution and resume.
	run sync.Mutex

	mu      sync.Mutex
	phase   Phase
	runID   string
	goal    string
	pending *store.Plan

	abort atomic.Bool
}

func NewOrchestrator(d Deps, opts Options) *Orchestrator {
	if opts.MaxStepRetries <= 0 {
		opts.MaxStepRetries = DefaultMaxStepRetries
	}
	return &Orchestrator{
		planner:        d.Planner,
		patcher:        d.Patcher,
		state:          d.State,
		registry:       d.Executor.Registry(),
		executor:       d.Executor,
		gate:           d.Gate,
		validator:      d.Validator,
		vcs:            d.VCS,
		archive:        d.Archive,
		logger:         d.Logger,
		metrics:        d.Metrics,
		resume:         NewResumeEngine(d.State, opts.MaxResumeAttempts, opts.ContextTokens),
		MaxStepRetries: opts.MaxStepRetries,
		phase:          PhaseIdle,
	}
}

func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Pending returns a copy of the plan awaiting approval, if any.
func (o *Orchestrator) Pending() *store.Plan {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending.Clone()
}

func (o *Orchestrator) Status() Status {
	return Status{
		Phase:    o.Phase(),
		Progress: o.state.ProgressSummary(),
		Pending:  o.Pending(),
	}
}

func (o *Orchestrator) ResumeEngine() *ResumeEngine {
	return o.resume
}

func (o *Orchestrator) setPhase(to Phase) error {
	o.mu.Lock()
	from := o.phase
	if err := checkTransition(from, to); err != nil {
		o.mu.Unlock()
		return err
	}
	o.phase = to
	runID, goal := o.runID, o.goal
	o.mu.Unlock()

	if from == to {
		return nil
	}
	log.Printf("[Orchestrator] %s -> %s", from, to)
	o.logger.LogPhase(runID, string(from), string(to))
	o.metrics.ObservePhase(string(to))
	if to == PhaseIdle {
		observability.SetStatus(observability.StageIdle, "")
	} else {
		observability.SetStatus(observability.Stage(to), goal)
	}
	return nil
}

// enter moves within a run, where every move is in the table.
func (o *Orchestrator) enter(to Phase) {
	if err := o.setPhase(to); err != nil {
		log.Printf("[Orchestrator] %v", err)
	}
}

func (o *Orchestrator) bind(st *store.ExecutionState) {
	o.mu.Lock()
	o.runID, o.goal = st.RunID, st.Goal
	o.mu.Unlock()
}

// HandleTask is the entry point for a new goal. An execution that is still
// running is resumed instead of planning again; otherwise a plan is
// generated and held for approval.
func (o *Orchestrator) HandleTask(ctx context.Context, goal string) (*Outcome, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, fmt.Errorf("%w: empty goal", ErrPlanGeneration)
	}
	if o.state.HasActiveExecution() {
		log.Printf("[Orchestrator] Resuming previous execution...")
		return o.Resume(ctx)
	}

	if !o.run.TryLock() {
		return nil, ErrBusy
	}
	defer o.run.Unlock()

	o.abort.Store(false)
	o.mu.Lock()
	o.runID, o.goal = "", goal
	if o.pending != nil {
		o.pending.Status = store.PlanSuperseded
		o.pending = nil
	}
	o.mu.Unlock()

	if err := o.setPhase(PhasePlanning); err != nil {
		return nil, err
	}

	plan, err := o.planner.Generate(ctx, goal, o.registry.Infos())
	if err != nil {
		log.Printf("[Orchestrator] Plan generation failed: %v", err)
		o.enter(PhaseFailed)
		o.metrics.ObserveRun("plan_failed")
		return &Outcome{Phase: PhaseFailed, Message: fmt.Sprintf("Plan generation failed: %v", err)}, err
	}
	o.logger.LogPlan("", plan)

	o.mu.Lock()
	o.pending = plan
	o.mu.Unlock()
	o.enter(PhaseAwaitingApproval)

	return &Outcome{
		Phase:            PhaseAwaitingApproval,
		Plan:             plan.Clone(),
		RequiresApproval: true,
		TotalSteps:       len(plan.Steps),
		Message:          "Plan generated. Please review and approve before execution.",
	}, nil
}

// Reject drops the plan awaiting approval.
func (o *Orchestrator) Reject() error {
	if !o.run.TryLock() {
		return ErrBusy
	}
	defer o.run.Unlock()

	o.mu.Lock()
	if o.pending == nil {
		o.mu.Unlock()
		return ErrNoPendingPlan
	}
	o.pending.Status = store.PlanSuperseded
	o.pending = nil
	o.mu.Unlock()

	log.Printf("[Orchestrator] Plan rejected")
	return o.setPhase(PhaseIdle)
}

// Approve starts executing plan, or the pending plan when plan is nil.
func (o *Orchestrator) Approve(ctx context.Context, plan *store.Plan) (*Outcome, error) {
	if !o.run.TryLock() {
		return nil, ErrBusy
	}
	defer o.run.Unlock()

	o.mu.Lock()
	if plan == nil {
		plan = o.pending
	}
	o.mu.Unlock()
	if plan == nil {
		return nil, ErrNoPendingPlan
	}
	if err := ValidatePlan(plan, o.registry.Infos()); err != nil {
		return nil, err
	}
	if err := checkTransition(o.Phase(), PhaseExecuting); err != nil {
		return nil, err
	}

	o.archiveFinished()
	st, err := o.state.Initialize(plan.Goal, plan)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.pending = nil
	o.mu.Unlock()
	o.bind(st)
	o.logger.LogPlan(st.RunID, st.Plan)
	log.Printf("[Orchestrator] Plan approved, executing %d steps", len(st.Plan.Steps))

	return o.execute(ctx, st, "", false)
}

// Resume re-enters a persisted execution and runs only its remaining steps.
func (o *Orchestrator) Resume(ctx context.Context) (*Outcome, error) {
	if !o.run.TryLock() {
		return nil, ErrBusy
	}
	defer o.run.Unlock()

	if err := checkTransition(o.Phase(), PhaseExecuting); err != nil {
		return nil, err
	}

	st, summary, err := o.resume.Begin()
	if err != nil {
		log.Printf("[Orchestrator] Resume refused: %v", err)
		out := &Outcome{Phase: o.Phase(), Message: err.Error()}
		if latest, ok := o.state.State(); ok {
			out.RunID = latest.RunID
			out.CompletedSteps = len(latest.CompletedStepIndices)
			if latest.Plan != nil {
				out.TotalSteps = len(latest.Plan.Steps)
			}
		}
		return out, err
	}

	o.bind(st)
	o.metrics.IncResume()
	o.logger.LogResume(st.RunID, st.ResumeCount, st.RemainingStepIndices)
	return o.execute(ctx, st, summary, true)
}

// Abort asks the running execution to stop at the next step boundary. With
// no execution in flight, a running record left behind is marked cancelled
// directly.
func (o *Orchestrator) Abort() error {
	if o.run.TryLock() {
		defer o.run.Unlock()
		if !o.state.HasActiveExecution() {
			return ErrNoExecution
		}
		if err := o.state.MarkCancelled(); err != nil {
			return err
		}
		o.enter(PhaseCancelled)
		o.metrics.ObserveRun("cancelled")
		return nil
	}
	o.abort.Store(true)
	log.Printf("[Orchestrator] Abort requested, stopping after the current step")
	return nil
}

// Acknowledge archives a finished execution and clears its state record.
func (o *Orchestrator) Acknowledge() error {
	if !o.run.TryLock() {
		return ErrBusy
	}
	defer o.run.Unlock()

	st, ok := o.state.State()
	if !ok {
		return ErrNoExecution
	}
	if st.Status == store.StatusRunning {
		return store.ErrExecutionActive
	}
	if o.archive != nil {
		if err := o.archive.ArchiveRun(st); err != nil {
			return fmt.Errorf("archive run: %w", err)
		}
	}
	if err := o.state.Clear(); err != nil {
		return err
	}
	o.mu.Lock()
	o.runID, o.goal = "", ""
	o.mu.Unlock()
	return o.setPhase(PhaseIdle)
}

// Push sends a prepared branch to the remote after the operator confirmed it.
func (o *Orchestrator) Push(ctx context.Context, branch string, c vcs.Confirmation) error {
	if o.vcs == nil {
		return fmt.Errorf("%w: version control is disabled", vcs.ErrVersionControl)
	}
	detail := "git push " + branch
	res, err := o.gate.Evaluate(ctx, governance.Request{Operation: governance.OpNetwork, Detail: detail})
	if err != nil || !res.Allowed() {
		o.metrics.IncPermissionDenied(string(governance.OpNetwork))
		return fmt.Errorf("%w: %s", ErrPermissionDenied, res.Reason)
	}

	log.Printf("[Orchestrator] Pushing branch '%s'...", branch)
	if err := o.vcs.PushBranch(ctx, branch, c); err != nil {
		log.Printf("[Orchestrator] Failed to push branch: %v", err)
		o.logger.LogVCS("push_failed", map[string]any{"branch": branch, "error": err.Error()})
		return err
	}
	o.logger.LogVCS("pushed", map[string]any{"branch": branch, "force": c.Force})
	return nil
}

// archiveFinished keeps a finished record that a new plan is about to replace.
func (o *Orchestrator) archiveFinished() {
	st, ok := o.state.State()
	if !ok || st.Status == store.StatusRunning || o.archive == nil {
		return
	}
	if err := o.archive.ArchiveRun(st); err != nil {
		log.Printf("[Orchestrator] Failed to archive run %s: %v", st.RunID, err)
	}
}

func (o *Orchestrator) execute(ctx context.Context, st *store.ExecutionState, resumeContext string, resumed bool) (*Outcome, error) {
	defer o.abort.Store(false)
	o.enter(PhaseExecuting)

	total := len(st.Plan.Steps)
	observability.SetProgress(len(st.CompletedStepIndices), total)

	for _, i := range append([]int(nil), st.RemainingStepIndices...) {
		if o.abort.Load() || ctx.Err() != nil {
			return o.cancel()
		}
		log.Printf("[Orchestrator] Executing step %d/%d: %s", i+1, total, st.Plan.Steps[i].Description)
		if err := o.runStep(ctx, st, i, resumeContext); err != nil {
			return o.stop(err, resumed)
		}
		observability.SetProgress(o.state.ProgressSummary().CompletedSteps, total)
	}

	report, err := o.finalValidation(ctx, st, resumeContext)
	if err != nil {
		return o.stop(err, resumed)
	}
	return o.finish(ctx, st, report, resumed)
}

// runStep executes step i until it succeeds and compiles, or until the
// retry ceiling is reached. Every attempt goes through the permission gate
// and is recorded in the store.
func (o *Orchestrator) runStep(ctx context.Context, st *store.ExecutionState, i int, resumeContext string) error {
	step := st.Plan.Steps[i]
	name := step.Capability + "." + step.Operation

	op, err := o.registry.Lookup(step.Capability, step.Operation)
	if err != nil {
		return &StepError{Index: i, Attempt: 1, Op: name, Err: fmt.Errorf("%w: %w", ErrStepExecution, err)}
	}

	params := make(map[string]any, len(step.Params))
	for k, v := range step.Params {
		params[k] = v
	}

	for attempt := 1; ; attempt++ {
		detail := o.registry.Describe(step.Capability, step.Operation, params)
		res, err := o.gate.Evaluate(ctx, governance.Request{Operation: op.Kind, Detail: detail})
		if err != nil || !res.Allowed() {
			reason := res.Reason
			if err != nil {
				reason = err.Error()
			}
			log.Printf("[Orchestrator] Step %d denied by permission gate: %s", i+1, reason)
			o.logger.LogPolicy(string(op.Kind), detail, "denied")
			o.metrics.IncPermissionDenied(string(op.Kind))
			return &StepError{Index: i, Attempt: attempt, Op: name, Err: fmt.Errorf("%w: %s", ErrPermissionDenied, reason)}
		}

		if err := o.state.UpdateCurrentStep(i); err != nil {
			return err
		}
		o.enter(PhaseExecuting)

		start := time.Now()
		result := o.executor.Execute(ctx, step.Capability, step.Operation, params)
		o.metrics.ObserveStep(step.Capability, result.Success, time.Since(start))
		o.logger.LogStep(st.RunID, i, step.Capability, step.Operation, result.Success, result.Text())

		if ctx.Err() != nil {
			return &StepError{Index: i, Attempt: attempt, Op: name, Err: ErrCancelled}
		}

		var failure string
		files := map[string]string{}
		if result.Success {
			o.enter(PhaseValidating)
			compile, err := o.validator.Compile(ctx)
			switch {
			case err != nil:
				failure = fmt.Sprintf("validation could not run: %v", err)
			case !compile.Success():
				msgs := make([]string, 0, len(compile.Issues))
				for _, issue := range compile.Issues {
					msgs = append(msgs, issue.String())
					files[issue.Path] = ""
				}
				failure = strings.Join(msgs, "\n")
			}
			o.logValidation(st.RunID, failure == "", failure)
		} else {
			failure = result.Text()
			if llm.IsTokenLimitText(failure) {
				return &StepError{Index: i, Attempt: attempt, Op: name, Err: fmt.Errorf("%w: %s", ErrTokenLimit, failure)}
			}
		}

		if failure == "" {
			return o.state.MarkStepComplete(i, true, result.Output)
		}

		log.Printf("[Orchestrator] Step %d attempt %d failed: %s", i+1, attempt, failure)
		if err := o.state.MarkStepComplete(i, false, failure); err != nil {
			return err
		}
		if attempt > o.MaxStepRetries {
			return &StepError{Index: i, Attempt: attempt, Op: name,
				Err: fmt.Errorf("%w: failed after %d retries. Last error: %s", ErrStepExecution, o.MaxStepRetries, failure)}
		}

		if path, ok := params["path"].(string); ok && step.Capability == patchCapability {
			files[path] = ""
		}
		o.enter(PhasePatching)
		applied, err := o.patch(ctx, st.RunID, PatchRequest{
			Goal:    st.Goal,
			Step:    &step,
			Params:  params,
			Error:   failure,
			Files:   files,
			Context: resumeContext,
		}, attempt)
		if err != nil {
			if errors.Is(err, ErrTokenLimit) {
				return &StepError{Index: i, Attempt: attempt, Op: name, Err: err}
			}
			log.Printf("[Orchestrator] Patch attempt %d for step %d: %v", attempt, i+1, err)
		}
		for k, v := range applied.Params {
			params[k] = v
		}
	}
}

// finalValidation checks the whole project once the steps are done. On
// failure every reported error gets exactly one patch attempt, then the
// project is validated again.
func (o *Orchestrator) finalValidation(ctx context.Context, st *store.ExecutionState, resumeContext string) (*validation.Report, error) {
	o.enter(PhaseValidating)
	report, err := o.validator.Validate(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	o.logValidation(st.RunID, report.Success, strings.Join(report.Errors, "\n"))
	if report.Success {
		return report, nil
	}

	log.Printf("[Orchestrator] Final validation failed with %d errors. Entering patch loop...", len(report.Errors))
	issueFiles := make(map[string]string, len(report.Compile.Issues))
	for _, issue := range report.Compile.Issues {
		issueFiles[issue.String()] = issue.Path
	}
	for n, e := range report.Errors {
		files := map[string]string{}
		if p, ok := issueFiles[e]; ok {
			files[p] = ""
		}
		for _, p := range report.MissingFiles {
			if strings.HasSuffix(e, p) {
				files[p] = ""
			}
		}
		o.enter(PhasePatching)
		if _, err := o.patch(ctx, st.RunID, PatchRequest{Goal: st.Goal, Error: e, Files: files, Context: resumeContext}, n+1); err != nil {
			if errors.Is(err, ErrTokenLimit) {
				return report, err
			}
			log.Printf("[Orchestrator] Failed to patch validation error %q: %v", e, err)
		}
	}

	o.enter(PhaseValidating)
	report, err = o.validator.Validate(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	o.logValidation(st.RunID, report.Success, strings.Join(report.Errors, "\n"))
	if !report.Success {
		return report, fmt.Errorf("%w: %s", ErrValidation, strings.Join(report.Errors, "; "))
	}
	return report, nil
}

func (o *Orchestrator) logValidation(runID string, success bool, errs string) {
	var list []string
	if errs != "" {
		list = strings.Split(errs, "\n")
	}
	o.logger.LogValidation(runID, success, list)
	o.metrics.ObserveValidation(success)
}

// finish records success, then prepares a change set. A version-control
// failure does not undo the completed execution.
func (o *Orchestrator) finish(ctx context.Context, st *store.ExecutionState, report *validation.Report, resumed bool) (*Outcome, error) {
	if err := o.state.MarkExecutionComplete(true); err != nil {
		return o.stop(err, resumed)
	}
	o.enter(PhasePreparingVC)

	latest, _ := o.state.State()
	out := o.outcome(PhaseDone, latest)
	out.Completed = true
	out.Resumed = resumed
	out.Validation = report
	out.Message = "Execution completed successfully."
	if resumed {
		out.Message = "Execution resumed and completed successfully."
	}

	if o.vcs != nil {
		prep, err := o.vcs.PrepareForPush(ctx, vcs.Summary{
			Goal:           st.Goal,
			CompletedSteps: out.CompletedSteps,
			TotalSteps:     out.TotalSteps,
		})
		switch {
		case errors.Is(err, vcs.ErrNoChanges):
			out.Message += " No changes to commit."
		case err != nil:
			log.Printf("[Orchestrator] Version control preparation failed: %v", err)
			out.VCSError = err.Error()
			o.logger.LogVCS("prepare_failed", map[string]any{"run_id": st.RunID, "error": err.Error()})
		default:
			out.Prepared = prep
			out.Message += fmt.Sprintf(" Changes committed on branch %s. Confirm to push.", prep.BranchName)
			o.logger.LogVCS("prepared", map[string]any{
				"run_id": st.RunID,
				"branch": prep.BranchName,
				"base":   prep.BaseBranch,
				"files":  prep.ChangedFiles,
			})
		}
	}

	o.enter(PhaseDone)
	o.metrics.ObserveRun("completed")
	observability.SetProgress(out.CompletedSteps, out.TotalSteps)
	return out, nil
}

// stop records a run that cannot continue. Token-limit failures leave the
// execution running for a later resume.
func (o *Orchestrator) stop(err error, resumed bool) (*Outcome, error) {
	if errors.Is(err, ErrCancelled) {
		return o.cancel()
	}

	if errors.Is(err, ErrTokenLimit) {
		if herr := o.resume.HandleTokenLimitError(err.Error(), stepIndex(err)); herr != nil && !errors.Is(herr, ErrTokenLimit) {
			log.Printf("[Orchestrator] Failed to save token limit state: %v", herr)
		}
		o.enter(PhaseFailed)
		o.metrics.ObserveRun("suspended")
		latest, _ := o.state.State()
		out := o.outcome(PhaseFailed, latest)
		out.Resumed = resumed
		out.Resumable = true
		out.CanRetry = true
		out.Message = "Token limit exceeded. State saved. Please resume execution."
		return out, err
	}

	msg := err.Error()
	if resumed {
		msg = "Resumed execution failed: " + msg
	}
	if aerr := o.state.AddError(msg, stepIndex(err)); aerr != nil {
		log.Printf("[Orchestrator] Failed to record error: %v", aerr)
	}
	if merr := o.state.MarkExecutionComplete(false); merr != nil {
		log.Printf("[Orchestrator] Failed to record failure: %v", merr)
	}
	log.Printf("[Orchestrator] Execution failed: %s", msg)

	o.enter(PhaseFailed)
	o.metrics.ObserveRun("failed")
	latest, _ := o.state.State()
	out := o.outcome(PhaseFailed, latest)
	out.Resumed = resumed
	out.CanRetry = o.resume.CanRetry(latest)
	out.Message = msg
	return out, err
}

func (o *Orchestrator) cancel() (*Outcome, error) {
	if err := o.state.MarkCancelled(); err != nil {
		log.Printf("[Orchestrator] Failed to record cancellation: %v", err)
	}
	o.enter(PhaseCancelled)
	o.metrics.ObserveRun("cancelled")
	latest, _ := o.state.State()
	out := o.outcome(PhaseCancelled, latest)
	out.Resumable = true
	out.CanRetry = o.resume.CanRetry(latest)
	out.Message = "Execution cancelled. Progress saved; resume to continue."
	return out, ErrCancelled
}

func (o *Orchestrator) outcome(phase Phase, st *store.ExecutionState) *Outcome {
	out := &Outcome{Phase: phase}
	if st == nil {
		return out
	}
	out.RunID = st.RunID
	out.Plan = st.Plan
	out.CompletedSteps = len(st.CompletedStepIndices)
	if st.Plan != nil {
		out.TotalSteps = len(st.Plan.Steps)
	}
	return out
}
