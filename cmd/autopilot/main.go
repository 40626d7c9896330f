package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rahul/autopilot/internal/agent"
	"github.com/rahul/autopilot/internal/governance"
	"github.com/rahul/autopilot/internal/observability"
	"github.com/rahul/autopilot/internal/store"
	"github.com/rahul/autopilot/internal/validation"
	"github.com/rahul/autopilot/internal/vcs"
)

var cfgPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "autopilot",
		Short:         "Plan, approve, execute and validate automation goals",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.json", "config file (JSON or YAML)")

	rootCmd.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newApproveCmd(),
		newResumeCmd(),
		newStatusCmd(),
		newClearCmd(),
		newPushCmd(),
		newRiskCmd(),
		newHistoryCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// withApp builds the stack for one command and tears it down afterwards.
func withApp(withModel bool, fn func(a *app) error) error {
	log.SetOutput(observability.NewTermWriter())
	a, err := newApp(cfgPath, withModel)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newRunCmd() *cobra.Command {
	var yes, planOnly bool
	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Generate a plan for a goal and execute it after approval",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(true, func(a *app) error {
				ctx := cmd.Context()
				out, err := a.orch.HandleTask(ctx, strings.Join(args, " "))
				if out == nil {
					return err
				}
				if !out.RequiresApproval {
					// An interrupted execution was resumed instead of planning.
					printOutcome(out)
					return err
				}

				fmt.Println(agent.FormatPlan(out.Plan))
				printStepRisk(a, out.Plan)

				if planOnly {
					return savePlan(a.pendingPlanPath(), out.Plan)
				}
				if !yes {
					ok, err := confirm("Approve this plan?")
					if err != nil {
						return err
					}
					if !ok {
						return a.orch.Reject()
					}
				}
				out, err = a.orch.Approve(ctx, nil)
				printOutcome(out)
				return err
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "approve the plan without asking")
	cmd.Flags().BoolVar(&planOnly, "plan-only", false, "save the plan for a later `approve` and stop")
	return cmd
}

func newApproveCmd() *cobra.Command {
	var planFile string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Execute a plan saved by `run --plan-only`",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(true, func(a *app) error {
				path := planFile
				if path == "" {
					path = a.pendingPlanPath()
				}
				plan, err := loadPlan(path)
				if err != nil {
					return err
				}
				out, err := a.orch.Approve(cmd.Context(), plan)
				printOutcome(out)
				if err == nil || out != nil {
					os.Remove(path)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&planFile, "plan", "", "plan file (defaults to the pending plan next to the state file)")
	return cmd
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Continue an interrupted or failed execution from its remaining steps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(true, func(a *app) error {
				out, err := a.orch.Resume(cmd.Context())
				printOutcome(out)
				return err
			})
		},
	}
}

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted execution progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(false, func(a *app) error {
				summary := a.state.ProgressSummary()
				if asJSON {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(summary)
				}
				fmt.Println(agent.FormatProgress(summary))
				if st, ok := a.state.State(); ok {
					fmt.Println(a.orch.ResumeEngine().Summarize(st))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func newClearCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Archive and clear a finished execution record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(false, func(a *app) error {
				err := a.orch.Acknowledge()
				if errors.Is(err, store.ErrExecutionActive) && force {
					// Nothing is running in this process, so the record is stale.
					if aerr := a.orch.Abort(); aerr != nil {
						return aerr
					}
					err = a.orch.Acknowledge()
				}
				if err != nil {
					return err
				}
				fmt.Println("Execution record cleared.")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "cancel and clear a record still marked running")
	return cmd
}

func newPushCmd() *cobra.Command {
	var token string
	var force bool
	cmd := &cobra.Command{
		Use:   "push <branch>",
		Short: "Push a branch prepared by a finished execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(false, func(a *app) error {
				if token == "" {
					ok, err := confirm(fmt.Sprintf("Push %s to %s?", args[0], a.cfg.VCS.Remote))
					if err != nil {
						return err
					}
					if !ok {
						return vcs.ErrConfirmationRequired
					}
					token = "interactive"
				}
				if err := a.orch.Push(cmd.Context(), args[0], vcs.Confirmation{Token: token, Force: force}); err != nil {
					return err
				}
				fmt.Printf("Branch %s pushed.\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&token, "confirm", "", "confirmation for non-interactive pushes")
	cmd.Flags().BoolVar(&force, "force", false, "push with --force-with-lease")
	return cmd
}

func newRiskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "risk <command>",
		Short: "Score how dangerous a shell command looks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			detail := strings.Join(args, " ")
			score := governance.NewRiskScorer().Score(detail)
			fmt.Printf("Risk score: %d (%s)\n", score, governance.LevelFor(score))
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int
	var audit bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived runs or recent permission decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(false, func(a *app) error {
				if audit {
					entries, err := a.history.RecentAudit(limit)
					if err != nil {
						return err
					}
					for _, e := range entries {
						fmt.Printf("%s  %-14s %-7s %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.Operation, e.Outcome, e.Detail)
					}
					return nil
				}
				runs, err := a.history.ListRuns(limit)
				if err != nil {
					return err
				}
				for _, r := range runs {
					fmt.Printf("%s  %-9s %d/%d steps  resumes=%d  %s\n",
						r.FinishedAt.Format("2006-01-02 15:04:05"), r.Status, r.CompletedSteps, r.TotalSteps, r.ResumeCount, r.Goal)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	cmd.Flags().BoolVar(&audit, "audit", false, "show the permission audit trail instead")
	return cmd
}

func printStepRisk(a *app, plan *store.Plan) {
	scorer := a.gate.Scorer()
	for _, s := range plan.Steps {
		detail := a.executor.Registry().Describe(s.Capability, s.Operation, s.Params)
		if score := scorer.Score(detail); score >= 40 {
			fmt.Printf("  ! step %d risk %d (%s): %s\n", s.ID, score, governance.LevelFor(score), detail)
		}
	}
}

func printOutcome(out *agent.Outcome) {
	if out == nil {
		return
	}
	fmt.Println(out.Message)
	if out.TotalSteps > 0 {
		fmt.Printf("Progress: %d/%d steps\n", out.CompletedSteps, out.TotalSteps)
	}
	if out.Validation != nil {
		fmt.Println(validation.FormatReport(out.Validation))
	}
	if p := out.Prepared; p != nil {
		fmt.Printf("\nBranch %s (from %s), %d file(s):\n%s\n", p.BranchName, p.BaseBranch, len(p.ChangedFiles), p.DiffPreview)
		fmt.Printf("Run `autopilot push %s` to publish it.\n", p.BranchName)
	}
	if out.VCSError != "" {
		fmt.Println("Version control:", out.VCSError)
	}
	if out.Resumable || (out.Phase == agent.PhaseFailed && out.CanRetry) {
		fmt.Println("Run `autopilot resume` to continue.")
	}
}

// confirm asks a yes/no question on the terminal. Without a terminal there
// is nobody to ask, so the answer is no.
func confirm(question string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, fmt.Errorf("%s: no terminal to confirm on, pass the flag instead", question)
	}
	fmt.Printf("%s [y/N] ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func savePlan(path string, plan *store.Plan) error {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	fmt.Printf("Plan saved to %s. Run `autopilot approve` to execute it.\n", path)
	return nil
}

func loadPlan(path string) (*store.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", agent.ErrNoPendingPlan, err)
	}
	var plan store.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("read plan %s: %w", path, err)
	}
	return &plan, nil
}
