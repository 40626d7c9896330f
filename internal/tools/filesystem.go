package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rahul/autopilot/internal/governance"
)

type Filesystem struct {
	Root string
}

func NewFilesystem(root string) *Filesystem {
	absRoot, _ := filepath.Abs(root)
	return &Filesystem{Root: absRoot}
}

func (f *Filesystem) Name() string {
	return "filesystem"
}

func (f *Filesystem) Description() string {
	return "Manage files in the project workspace: read, write, append, list, delete, and mkdir."
}

func (f *Filesystem) Operations() []Operation {
	return []Operation{
		{Name: "read_file", Kind: governance.OpRead, Description: "Read a file", Params: []string{"path"}},
		{Name: "list_dir", Kind: governance.OpRead, Description: "List a directory", Params: []string{"path"}},
		{Name: "write_file", Kind: governance.OpWrite, Description: "Create or overwrite a file", Params: []string{"path", "content"}},
		{Name: "append_file", Kind: governance.OpWrite, Description: "Append to a file", Params: []string{"path", "content"}},
		{Name: "mkdir", Kind: governance.OpWrite, Description: "Create a directory and its parents", Params: []string{"path"}},
		{Name: "delete_file", Kind: governance.OpWrite, Description: "Delete a file or empty directory", Params: []string{"path"}},
	}
}

func (f *Filesystem) Describe(operation string, params map[string]any) string {
	return fmt.Sprintf("%s %s", operation, optionalString(params, "path"))
}

// Resolve maps a workspace-relative path to an absolute one inside Root.
func (f *Filesystem) Resolve(name string) (string, error) {
	targetPath := filepath.Join(f.Root, name)

	// Safety check: ensure targetPath is within f.Root
	rel, err := filepath.Rel(f.Root, targetPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("unsafe path attempt: %s", name)
	}
	return targetPath, nil
}

func (f *Filesystem) Execute(ctx context.Context, operation string, params map[string]any) StepResult {
	name, err := stringParam(params, "path")
	if err != nil {
		return Fail("%v", err)
	}
	targetPath, err := f.Resolve(name)
	if err != nil {
		return Fail("%v", err)
	}
	content := optionalString(params, "content")

	switch operation {
	case "read_file":
		data, err := os.ReadFile(targetPath)
		if err != nil {
			return Fail("failed to read file: %v", err)
		}
		return Ok(string(data))
	case "write_file":
		if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
			return Fail("failed to create parent directory: %v", err)
		}
		if err := os.WriteFile(targetPath, []byte(content), 0644); err != nil {
			return Fail("failed to write file: %v", err)
		}
		return Ok(fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), name))
	case "append_file":
		fh, err := os.OpenFile(targetPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return Fail("failed to open file: %v", err)
		}
		defer fh.Close()
		if _, err := fh.WriteString(content); err != nil {
			return Fail("failed to append to file: %v", err)
		}
		return Ok(fmt.Sprintf("Successfully appended to %s", name))
	case "list_dir":
		entries, err := os.ReadDir(targetPath)
		if err != nil {
			return Fail("failed to list directory: %v", err)
		}
		var sb strings.Builder
		for _, entry := range entries {
			typeStr := "file"
			if entry.IsDir() {
				typeStr = "dir"
			}
			fmt.Fprintf(&sb, "[%s] %s\n", typeStr, entry.Name())
		}
		if sb.Len() == 0 {
			return Ok("Directory is empty")
		}
		return Ok(sb.String())
	case "delete_file":
		if targetPath == f.Root {
			return Fail("refusing to delete the workspace root")
		}
		if err := os.Remove(targetPath); err != nil {
			return Fail("failed to delete: %v", err)
		}
		return Ok(fmt.Sprintf("Successfully deleted %s", name))
	case "mkdir":
		if err := os.MkdirAll(targetPath, 0755); err != nil {
			return Fail("failed to create directory: %v", err)
		}
		return Ok(fmt.Sprintf("Successfully created directory %s", name))
	default:
		return Fail("%v: %q", ErrUnknownOperation, operation)
	}
}
