package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rahul/autopilot/internal/governance"
)

// Desktop drives the GUI through xdotool and captures the screen.
type Desktop struct {
	ScreenshotDir string
}

func NewDesktop(screenshotDir string) *Desktop {
	return &Desktop{ScreenshotDir: screenshotDir}
}

func (s *Desktop) Name() string {
	return "system"
}

func (s *Desktop) Description() string {
	return "Control the system GUI (mouse and keyboard) and capture desktop state."
}

func (s *Desktop) Operations() []Operation {
	op := func(name, desc string, params ...string) Operation {
		return Operation{Name: name, Kind: governance.OpSystemControl, Description: desc, Params: params}
	}
	return []Operation{
		op("mouse_move", "Move the pointer", "x", "y"),
		op("mouse_click", "Click a mouse button (1=left, 2=middle, 3=right)", "button"),
		op("key_press", "Press a key or combination such as alt+Tab", "key"),
		op("type_text", "Type a string", "text"),
		op("desktop_screenshot", "Capture the desktop"),
	}
}

func (s *Desktop) Execute(ctx context.Context, operation string, params map[string]any) StepResult {
	if operation == "desktop_screenshot" {
		return s.captureDesktop(ctx)
	}

	var cmdArgs []string
	switch operation {
	case "mouse_move":
		cmdArgs = []string{"mousemove", strconv.Itoa(intParam(params, "x", 0)), strconv.Itoa(intParam(params, "y", 0))}
	case "mouse_click":
		button := optionalString(params, "button")
		if button == "" {
			button = strconv.Itoa(intParam(params, "button", 1))
		}
		cmdArgs = []string{"click", button}
	case "key_press":
		key, err := stringParam(params, "key")
		if err != nil {
			return Fail("%v", err)
		}
		cmdArgs = []string{"key", key}
	case "type_text":
		text, err := stringParam(params, "text")
		if err != nil {
			return Fail("%v", err)
		}
		cmdArgs = []string{"type", text}
	default:
		return Fail("%v: %q", ErrUnknownOperation, operation)
	}

	cmd := exec.CommandContext(ctx, "xdotool", cmdArgs...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return Fail("xdotool is not installed")
		}
		return StepResult{Output: string(output), Error: fmt.Sprintf("Error executing xdotool: %v", err)}
	}
	return Ok(fmt.Sprintf("Successfully executed action: %s", operation))
}

func (s *Desktop) captureDesktop(ctx context.Context) StepResult {
	os.MkdirAll(s.ScreenshotDir, 0755)
	filename := fmt.Sprintf("desktop_%d.png", time.Now().Unix())
	path := filepath.Join(s.ScreenshotDir, filename)

	cmd := exec.CommandContext(ctx, "ffmpeg", "-f", "x11grab", "-i", ":0.0", "-frames:v", "1", path, "-y")
	output, err := cmd.CombinedOutput()
	if err != nil {
		// Fallback to scrot
		cmd = exec.CommandContext(ctx, "scrot", path)
		output, err = cmd.CombinedOutput()
		if err != nil {
			return StepResult{Output: string(output), Error: fmt.Sprintf("Error capturing desktop: %v", err)}
		}
	}

	absPath, _ := filepath.Abs(path)
	return Ok(fmt.Sprintf("Desktop screenshot saved to %s", absPath))
}
