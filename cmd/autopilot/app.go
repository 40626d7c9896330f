package main

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/rahul/autopilot/internal/agent"
	"github.com/rahul/autopilot/internal/governance"
	"github.com/rahul/autopilot/internal/llm"
	"github.com/rahul/autopilot/internal/observability"
	"github.com/rahul/autopilot/internal/store"
	"github.com/rahul/autopilot/internal/tools"
	"github.com/rahul/autopilot/internal/validation"
	"github.com/rahul/autopilot/internal/vcs"
	"github.com/rahul/autopilot/pkg/config"
)

// app holds everything one process needs. It is built once per command.
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	history  *store.HistoryStore
	state    *store.StateStore
	gate     *governance.Gate
	executor *tools.Executor
	browser  *tools.Browser
	orch     *agent.Orchestrator
}

// newApp wires the stack. Commands that never talk to the model pass
// withModel=false and get an orchestrator without planner or patcher.
func newApp(cfgPath string, withModel bool) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, registry: prometheus.NewRegistry()}
	a.metrics = observability.NewMetrics(a.registry)

	a.logger, err = observability.NewLogger(cfg.App.LogDir, observability.NewTermWriter())
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a.history, err = store.NewHistoryStore(cfg.Memory.Path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open history: %w", err)
	}

	a.state, err = store.NewStateStore(cfg.Execution.StateFile)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open execution state: %w", err)
	}

	if a.gate, err = a.newGate(); err != nil {
		a.Close()
		return nil, err
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewFilesystem(cfg.App.Workspace))
	registry.Register(tools.NewShell(cfg.App.Workspace))
	registry.Register(tools.NewReader())
	screenshots := filepath.Join(cfg.App.Workspace, "screenshots")
	a.browser = tools.NewBrowser(true, screenshots)
	registry.Register(a.browser)
	registry.Register(tools.NewDesktop(screenshots))
	search, err := tools.NewSearch(5)
	if err != nil {
		log.Printf("Warning: Failed to initialize search tool: %v", err)
	} else {
		registry.Register(search)
	}
	a.executor = tools.NewExecutor(registry, cfg.Execution.StepTimeout.Std())

	deps := agent.Deps{
		State:     a.state,
		Executor:  a.executor,
		Gate:      a.gate,
		Validator: validation.NewEngine(cfg.App.Workspace, cfg.Execution.CriticalFiles),
		Archive:   a.history,
		Logger:    a.logger,
		Metrics:   a.metrics,
	}
	if cfg.VCS.Enabled {
		deps.VCS = vcs.NewSafeFlow(cfg.App.Workspace, cfg.VCS.BranchPrefix, cfg.VCS.Remote, cfg.VCS.Exclude, nil)
	}
	if withModel {
		model, err := newModel(cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		gen := llm.NewLangChainGenerator(model, cfg.Execution.LLMTimeout.Std(), a.logger)
		prompts := agent.NewPromptManager(cfg.App.PromptDir)
		deps.Planner = agent.NewPlanner(gen, prompts)
		deps.Patcher = agent.NewPatcher(gen, prompts)
	}

	a.orch = agent.NewOrchestrator(deps, agent.Options{
		MaxStepRetries:    cfg.Execution.MaxStepRetries,
		MaxResumeAttempts: cfg.Execution.MaxResumeAttempts,
		ContextTokens:     cfg.Execution.ContextTokens,
	})
	return a, nil
}

func (a *app) newGate() (*governance.Gate, error) {
	sec := a.cfg.Security
	level, err := governance.ParseLevel(sec.Level)
	if err != nil {
		return nil, err
	}

	sinks := governance.MultiAudit{
		governance.AuditSinkFunc(func(rec governance.AuditRecord) error {
			return a.history.RecordAudit(store.AuditEntry{
				Operation: rec.Operation,
				Detail:    rec.Detail,
				Outcome:   rec.Outcome,
				Timestamp: rec.Timestamp,
			})
		}),
	}
	if sec.AuditLog != "" {
		fileAudit, err := governance.NewFileAudit(sec.AuditLog)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		sinks = append(sinks, fileAudit)
	}

	gate := governance.NewDefaultGate(level, sinks)
	for _, p := range sec.DenyPatterns {
		if err := gate.DenyPattern(p); err != nil {
			return nil, fmt.Errorf("security.deny_patterns: %w", err)
		}
	}
	gate.SetAdminToken(sec.AdminToken)
	return gate, nil
}

func newModel(cfg *config.Config) (llms.Model, error) {
	name, p := cfg.GetDefaultProvider()
	if name == "" {
		return nil, fmt.Errorf("no enabled provider found in config")
	}

	switch name {
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(p.APIKey),
			openai.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("provider %s not yet implemented", name)
	}
}

// pendingPlanPath is where `run --plan-only` leaves a plan for `approve`.
func (a *app) pendingPlanPath() string {
	return filepath.Join(filepath.Dir(a.cfg.Execution.StateFile), "pending_plan.json")
}

func (a *app) Close() {
	if a.browser != nil {
		a.browser.Close()
	}
	if a.history != nil {
		a.history.Close()
	}
	a.logger.Close()
}
