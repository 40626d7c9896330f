package vcs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	ErrNoChanges            = errors.New("no changes to commit")
	ErrConfirmationRequired = errors.New("push requires explicit confirmation")
	ErrProtectedBranch      = errors.New("refusing to push a branch this flow did not create")
)

// DefaultExclude lists paths that are never staged.
var DefaultExclude = []string{
	"**/__pycache__/**",
	"**/*.pyc",
	"**/.env",
	"**/*.db",
	"**/agent_execution_state.json",
	"**/*.log",
	"**/*.jsonl",
}

// Summary describes the finished run for the commit message.
type Summary struct {
	Goal           string
	CompletedSteps int
	TotalSteps     int
}

// Prepared is the result of PrepareForPush. Nothing has left the machine.
type Prepared struct {
	BranchName           string   `json:"branch_name"`
	BaseBranch           string   `json:"base_branch"`
	ChangedFiles         []string `json:"changed_files"`
	SkippedFiles         []string `json:"skipped_files,omitempty"`
	CommitMessage        string   `json:"commit_message"`
	DiffPreview          string   `json:"diff_preview"`
	RequiresConfirmation bool     `json:"requires_confirmation"`
}

// Confirmation is the operator's go-ahead for one push.
type Confirmation struct {
	Token string
	Force bool
}

type SafeFlow struct {
	Dir          string
	BranchPrefix string
	Remote       string
	Exclude      []string

	runner Runner
	now    func() time.Time
}

func NewSafeFlow(dir, branchPrefix, remote string, exclude []string, runner Runner) *SafeFlow {
	if branchPrefix == "" {
		branchPrefix = "agent"
	}
	if remote == "" {
		remote = "origin"
	}
	if exclude == nil {
		exclude = DefaultExclude
	}
	if runner == nil {
		runner = ExecRunner{Timeout: 60 * time.Second}
	}
	return &SafeFlow{
		Dir:          dir,
		BranchPrefix: branchPrefix,
		Remote:       remote,
		Exclude:      exclude,
		runner:       runner,
		now:          time.Now,
	}
}

func (f *SafeFlow) git(ctx context.Context, args ...string) (string, error) {
	return f.runner.Run(ctx, f.Dir, args...)
}

// IsRepository reports whether Dir is inside a git work tree.
func (f *SafeFlow) IsRepository(ctx context.Context) bool {
	out, err := f.git(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

func (f *SafeFlow) CurrentBranch(ctx context.Context) (string, error) {
	out, err := f.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ChangedFiles lists modified, added, deleted and untracked paths.
func (f *SafeFlow) ChangedFiles(ctx context.Context) ([]string, error) {
	out, err := f.git(ctx, "status", "--porcelain", "-z", "--untracked-files=all")
	if err != nil {
		return nil, err
	}
	return parsePorcelainZ(out), nil
}

// parsePorcelainZ reads `git status --porcelain -z`. Rename and copy entries
// carry their source path as the following field; a rename's source is a
// change too.
func parsePorcelainZ(out string) []string {
	fields := strings.Split(out, "\x00")
	var paths []string
	for i := 0; i < len(fields); i++ {
		entry := fields[i]
		if len(entry) < 4 {
			continue
		}
		status, path := entry[:2], entry[3:]
		paths = append(paths, path)
		if status[0] == 'R' || status[0] == 'C' {
			i++
			if status[0] == 'R' && i < len(fields) && fields[i] != "" {
				paths = append(paths, fields[i])
			}
		}
	}
	return paths
}

func (f *SafeFlow) excluded(path string) bool {
	for _, pattern := range f.Exclude {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

func (f *SafeFlow) branchName() string {
	return fmt.Sprintf("%s-%s", f.BranchPrefix, f.now().Format("20060102-150405"))
}

// PrepareForPush creates a new branch, stages every non-excluded change,
// commits it and returns a preview. It never pushes.
func (f *SafeFlow) PrepareForPush(ctx context.Context, summary Summary) (*Prepared, error) {
	changed, err := f.ChangedFiles(ctx)
	if err != nil {
		return nil, err
	}

	var stage, skipped []string
	for _, p := range changed {
		if f.excluded(p) {
			skipped = append(skipped, p)
			continue
		}
		stage = append(stage, p)
	}
	if len(stage) == 0 {
		return nil, ErrNoChanges
	}

	base, err := f.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	branch := f.branchName()
	if _, err := f.git(ctx, "checkout", "-b", branch); err != nil {
		return nil, err
	}
	log.Printf("[VCS] Created branch %s from %s", branch, base)

	rollback := func() {
		if _, err := f.git(context.Background(), "reset", "--quiet"); err != nil {
			log.Printf("[VCS] reset failed: %v", err)
		}
		if _, err := f.git(context.Background(), "checkout", base); err != nil {
			log.Printf("[VCS] checkout %s failed: %v", base, err)
			return
		}
		if _, err := f.git(context.Background(), "branch", "-D", branch); err != nil {
			log.Printf("[VCS] branch cleanup failed: %v", err)
		}
	}

	for _, p := range stage {
		if _, err := f.git(ctx, "add", "-A", "--", p); err != nil {
			rollback()
			return nil, err
		}
	}

	message := CommitMessage(summary, stage)
	if _, err := f.git(ctx, "commit", "-m", message); err != nil {
		rollback()
		return nil, err
	}

	preview, err := f.git(ctx, "show", "--stat", "--format=", "HEAD")
	if err != nil {
		preview = ""
	}

	return &Prepared{
		BranchName:           branch,
		BaseBranch:           base,
		ChangedFiles:         stage,
		SkippedFiles:         skipped,
		CommitMessage:        message,
		DiffPreview:          strings.TrimSpace(preview),
		RequiresConfirmation: true,
	}, nil
}

// CommitMessage lists the goal, step progress and the first ten files.
func CommitMessage(s Summary, files []string) string {
	var b strings.Builder
	b.WriteString("Agent Mode: Automated changes\n\n")
	fmt.Fprintf(&b, "Goal: %s\n\n", s.Goal)
	fmt.Fprintf(&b, "Completed: %d/%d steps\n\n", s.CompletedSteps, s.TotalSteps)
	b.WriteString("Changed files:\n")
	for i, p := range files {
		if i == 10 {
			fmt.Fprintf(&b, "  ... and %d more\n", len(files)-10)
			break
		}
		fmt.Fprintf(&b, "  - %s\n", p)
	}
	return strings.TrimRight(b.String(), "\n")
}

// PushBranch pushes a branch created by this flow. It never merges, and it
// only rewrites remote history when the confirmation says so.
func (f *SafeFlow) PushBranch(ctx context.Context, branch string, c Confirmation) error {
	if strings.TrimSpace(c.Token) == "" {
		return ErrConfirmationRequired
	}
	if !strings.HasPrefix(branch, f.BranchPrefix+"-") {
		return fmt.Errorf("%w: %s", ErrProtectedBranch, branch)
	}

	args := []string{"push"}
	if c.Force {
		args = append(args, "--force-with-lease")
	}
	args = append(args, f.Remote, branch)
	if _, err := f.git(ctx, args...); err != nil {
		return err
	}
	log.Printf("[VCS] Pushed %s to %s", branch, f.Remote)
	return nil
}
