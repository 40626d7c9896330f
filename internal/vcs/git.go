// Package vcs moves finished work onto a fresh branch and leaves the push to
// an explicit operator decision.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrVersionControl is matched by every *Error.
var ErrVersionControl = errors.New("version control operation failed")

// Error is a failed git invocation.
type Error struct {
	Op     string
	Output string
	Err    error
}

func (e *Error) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("git %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("git %s: %v: %s", e.Op, e.Err, out)
}

func (e *Error) Is(target error) bool {
	return target == ErrVersionControl
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Runner executes git in a working directory.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecRunner runs the git binary with a per-call timeout.
type ExecRunner struct {
	Timeout time.Duration
}

func (r ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		op := ""
		if len(args) > 0 {
			op = args[0]
		}
		return stdout.String(), &Error{Op: op, Output: stderr.String() + stdout.String(), Err: err}
	}
	return stdout.String(), nil
}
