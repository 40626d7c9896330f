package tools

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rahul/autopilot/internal/governance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCapability struct {
	name string
	run  func(ctx context.Context, operation string, params map[string]any) StepResult
}

func (s *stubCapability) Name() string        { return s.name }
func (s *stubCapability) Description() string { return "stub" }
func (s *stubCapability) Operations() []Operation {
	return []Operation{{Name: "go", Kind: governance.OpRead, Description: "run"}}
}
func (s *stubCapability) Execute(ctx context.Context, operation string, params map[string]any) StepResult {
	return s.run(ctx, operation, params)
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry()
	r.Register(NewFilesystem(t.TempDir()))
	r.Register(NewShell(""))

	assert.Equal(t, []string{"filesystem", "shell"}, r.Names())

	op, err := r.Lookup("shell", "execute_shell")
	require.NoError(t, err)
	assert.Equal(t, governance.OpShellExec, op.Kind)

	_, err = r.Lookup("filesystem", "chmod")
	assert.ErrorIs(t, err, ErrUnknownOperation)
	_, err = r.Lookup("teleport", "beam")
	assert.ErrorIs(t, err, ErrUnknownCapability)
}

func TestRegistry_Describe(t *testing.T) {
	r := NewRegistry()
	r.Register(NewShell(""))
	r.Register(&stubCapability{name: "stub"})

	assert.Equal(t, "ls -la", r.Describe("shell", "execute_shell", map[string]any{"command": "ls -la"}))
	assert.Equal(t, "stub.go a=1 b=x", r.Describe("stub", "go", map[string]any{"b": "x", "a": 1}))

	infos := FormatInfos(r.Infos())
	assert.Contains(t, infos, "- shell:")
	assert.Contains(t, infos, "execute_shell (shell_exec)")
}

func TestExecutor_FailureModes(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubCapability{name: "panicky", run: func(ctx context.Context, op string, p map[string]any) StepResult {
		panic("boom")
	}})
	r.Register(&stubCapability{name: "slow", run: func(ctx context.Context, op string, p map[string]any) StepResult {
		time.Sleep(time.Second)
		return Ok("late")
	}})
	exec := NewExecutor(r, 50*time.Millisecond)
	ctx := context.Background()

	res := exec.Execute(ctx, "missing", "go", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown capability")

	res = exec.Execute(ctx, "panicky", "go", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "panicked: boom")

	res = exec.Execute(ctx, "slow", "go", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	res = exec.Execute(cancelled, "slow", "go", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "cancelled")
}

func TestFilesystem_Operations(t *testing.T) {
	root := t.TempDir()
	fs := NewFilesystem(root)
	ctx := context.Background()

	res := fs.Execute(ctx, "write_file", map[string]any{"path": "notes/todo.txt", "content": "buy milk\n"})
	require.True(t, res.Success, res.Error)

	res = fs.Execute(ctx, "append_file", map[string]any{"path": "notes/todo.txt", "content": "walk dog\n"})
	require.True(t, res.Success, res.Error)

	res = fs.Execute(ctx, "read_file", map[string]any{"path": "notes/todo.txt"})
	require.True(t, res.Success)
	assert.Equal(t, "buy milk\nwalk dog\n", res.Output)

	res = fs.Execute(ctx, "list_dir", map[string]any{"path": "notes"})
	assert.Contains(t, res.Output, "[file] todo.txt")

	res = fs.Execute(ctx, "delete_file", map[string]any{"path": "notes/todo.txt"})
	require.True(t, res.Success)
	_, err := os.Stat(filepath.Join(root, "notes", "todo.txt"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	res = fs.Execute(ctx, "read_file", map[string]any{"path": "../../etc/passwd"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unsafe path")

	res = fs.Execute(ctx, "write_file", map[string]any{"content": "x"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, `missing parameter "path"`)
}

func TestShell_Execute(t *testing.T) {
	dir := t.TempDir()
	sh := NewShell(dir)
	ctx := context.Background()

	res := sh.Execute(ctx, "execute_shell", map[string]any{"command": "echo hello > out.txt && cat out.txt"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "hello", res.Output)

	res = sh.Execute(ctx, "execute_shell", map[string]any{"command": "echo oops >&2; exit 3"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "exit status 3")
	assert.Contains(t, res.Text(), "oops")
}

type fakeSearch struct{ query string }

func (f *fakeSearch) Call(ctx context.Context, input string) (string, error) {
	f.query = input
	return "1. result", nil
}

func TestSearch_Execute(t *testing.T) {
	client := &fakeSearch{}
	s := &Search{client: client}
	res := s.Execute(context.Background(), "web_search", map[string]any{"query": "go generics"})
	require.True(t, res.Success)
	assert.Equal(t, "go generics", client.query)

	res = s.Execute(context.Background(), "web_search", map[string]any{"query": 42})
	assert.False(t, res.Success)
}

func TestReader_RejectsNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	res := NewReader().Execute(context.Background(), "fetch_page", map[string]any{"url": srv.URL})
	assert.False(t, res.Success)
	assert.True(t, strings.Contains(res.Error, "status code 404"), res.Error)
}
