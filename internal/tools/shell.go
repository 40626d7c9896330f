package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rahul/autopilot/internal/governance"
)

type Shell struct {
	Dir string
}

func NewShell(dir string) *Shell {
	return &Shell{Dir: dir}
}

func (s *Shell) Name() string {
	return "shell"
}

func (s *Shell) Description() string {
	return "Execute shell commands in the project directory."
}

func (s *Shell) Operations() []Operation {
	return []Operation{
		{Name: "execute_shell", Kind: governance.OpShellExec, Description: "Run a command with bash -c", Params: []string{"command"}},
	}
}

func (s *Shell) Describe(operation string, params map[string]any) string {
	return optionalString(params, "command")
}

func (s *Shell) Execute(ctx context.Context, operation string, params map[string]any) StepResult {
	if operation != "execute_shell" {
		return Fail("%v: %q", ErrUnknownOperation, operation)
	}
	command, err := stringParam(params, "command")
	if err != nil {
		return Fail("%v", err)
	}

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = s.Dir
	output, err := cmd.CombinedOutput()

	result := strings.TrimSpace(string(output))
	if result == "" {
		result = "(no output)"
	}

	if err != nil {
		return StepResult{
			Success: false,
			Output:  result,
			Error:   fmt.Sprintf("Command failed with error: %v", err),
		}
	}
	return Ok(result)
}
