// Package validation checks that the project is still healthy after a step:
// every recognised source file parses, critical files exist, and declared
// dependencies are resolvable.
package validation

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultSkipDirs are never walked by the compile pass.
var DefaultSkipDirs = []string{".git", "node_modules", "vendor", "__pycache__", "dist", "build", "bin", ".venv"}

// Issue is one problem found in one file.
type Issue struct {
	Path    string
	Message string
}

func (i Issue) String() string {
	return fmt.Sprintf("Compilation error in %s: %s", i.Path, i.Message)
}

// CompileResult is the outcome of one compile pass.
type CompileResult struct {
	FilesChecked int
	Issues       []Issue
}

func (c CompileResult) Success() bool {
	return len(c.Issues) == 0
}

// Report is the outcome of Validate. Success is false only for compile or
// critical-file failures; dependency problems are warnings.
type Report struct {
	Success      bool     `json:"success"`
	Errors       []string `json:"errors"`
	Warnings     []string `json:"warnings"`
	FilesChecked int      `json:"files_checked"`

	Compile      CompileResult `json:"-"`
	MissingFiles []string      `json:"missing_files,omitempty"`
}

type Engine struct {
	Root          string
	CriticalFiles []string
	SkipDirs      []string
	Concurrency   int

	checkers map[string]checker
}

func NewEngine(root string, criticalFiles []string) *Engine {
	e := &Engine{
		Root:          root,
		CriticalFiles: criticalFiles,
		SkipDirs:      DefaultSkipDirs,
		Concurrency:   runtime.NumCPU(),
	}
	e.checkers = defaultCheckers()
	return e
}

// Compile parses every recognised source file under Root concurrently.
func (e *Engine) Compile(ctx context.Context) (CompileResult, error) {
	files, err := e.collect()
	if err != nil {
		return CompileResult{}, err
	}

	var (
		mu     sync.Mutex
		issues []Issue
	)
	g, gctx := errgroup.WithContext(ctx)
	if e.Concurrency > 0 {
		g.SetLimit(e.Concurrency)
	}
	for _, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			msg := e.checkFile(gctx, f)
			if msg == "" {
				return nil
			}
			rel, _ := filepath.Rel(e.Root, f)
			mu.Lock()
			issues = append(issues, Issue{Path: rel, Message: msg})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return CompileResult{}, err
	}

	sort.Slice(issues, func(i, j int) bool { return issues[i].Path < issues[j].Path })
	return CompileResult{FilesChecked: len(files), Issues: issues}, nil
}

func (e *Engine) checkFile(ctx context.Context, path string) string {
	check, ok := e.checkers[filepath.Ext(path)]
	if !ok {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err.Error()
	}
	if err := check(ctx, path, data); err != nil {
		return err.Error()
	}
	return ""
}

func (e *Engine) collect() ([]string, error) {
	skip := make(map[string]bool, len(e.SkipDirs))
	for _, d := range e.SkipDirs {
		skip[d] = true
	}

	var files []string
	err := filepath.WalkDir(e.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != e.Root && skip[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := e.checkers[filepath.Ext(path)]; ok {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// CheckCriticalFiles returns the configured paths that do not exist.
func (e *Engine) CheckCriticalFiles() []string {
	var missing []string
	for _, p := range e.CriticalFiles {
		if _, err := os.Stat(filepath.Join(e.Root, p)); err != nil {
			missing = append(missing, p)
		}
	}
	return missing
}

// Validate runs the compile pass, the critical-file check and the
// dependency check. The error is non-nil only when ctx ends first or the
// project root cannot be walked.
func (e *Engine) Validate(ctx context.Context) (*Report, error) {
	log.Printf("[Validation] Validating %s", e.Root)

	compile, err := e.Compile(ctx)
	if err != nil {
		return nil, err
	}
	report := &Report{
		Compile:      compile,
		FilesChecked: compile.FilesChecked,
		Errors:       []string{},
		Warnings:     []string{},
	}
	for _, issue := range compile.Issues {
		report.Errors = append(report.Errors, issue.String())
	}

	report.MissingFiles = e.CheckCriticalFiles()
	for _, p := range report.MissingFiles {
		report.Errors = append(report.Errors, "Critical file missing: "+p)
	}

	report.Warnings = append(report.Warnings, e.CheckDependencies(ctx)...)
	report.Success = len(report.Errors) == 0

	outcome := "passed"
	if !report.Success {
		outcome = "failed"
	}
	log.Printf("[Validation] Validation %s: %d files, %d errors, %d warnings",
		outcome, report.FilesChecked, len(report.Errors), len(report.Warnings))
	return report, nil
}
