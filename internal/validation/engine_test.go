package validation

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestEngine_ValidProject(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n\nfunc main() {}\n")
	writeFile(t, root, "config.json", `{"name": "demo"}`)
	writeFile(t, root, "deploy.yaml", "a: 1\n---\nb: [1, 2]\n")
	writeFile(t, root, "README.md", "# not checked")

	e := NewEngine(root, []string{"main.go"})
	report, err := e.Validate(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Success, report.Errors)
	assert.Equal(t, 3, report.FilesChecked)
	assert.Empty(t, report.Errors)
}

func TestEngine_CompileErrorsPerFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "ok.go", "package ok\n")
	writeFile(t, root, "broken.go", "package broken\n\nfunc f( {\n")
	writeFile(t, root, "bad.json", "{\n  \"a\": 1,\n}\n")
	writeFile(t, root, "bad.yml", "a: [1, 2\n")

	e := NewEngine(root, nil)
	res, err := e.Compile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.FilesChecked)
	require.Len(t, res.Issues, 3)

	paths := []string{res.Issues[0].Path, res.Issues[1].Path, res.Issues[2].Path}
	assert.Equal(t, []string{"bad.json", "bad.yml", "broken.go"}, paths)
	assert.Contains(t, res.Issues[0].Message, "line 3")
}

func TestEngine_SkipsVendoredDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "node_modules/pkg/index.json", "{broken")
	writeFile(t, root, ".git/config.json", "{broken")
	writeFile(t, root, "vendor/x/x.go", "not go")
	writeFile(t, root, "app/main.go", "package main\n")

	report, err := NewEngine(root, nil).Validate(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Success, report.Errors)
	assert.Equal(t, 1, report.FilesChecked)
}

func TestEngine_CriticalFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")

	e := NewEngine(root, []string{"main.go", "go.sum"})
	report, err := e.Validate(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Success)
	assert.Equal(t, []string{"go.sum"}, report.MissingFiles)
	assert.Contains(t, report.Errors, "Critical file missing: go.sum")
}

func TestEngine_DependencyProblemsAreWarnings(t *testing.T) {
	root := t.TempDir()
	t.Setenv("GOMODCACHE", filepath.Join(root, "modcache"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "modcache", "github.com", "!burnt!sushi", "toml@v1.3.2"), 0755))

	writeFile(t, root, "go.mod", "module example.com/demo\n\ngo 1.22\n\nrequire (\n\tgithub.com/BurntSushi/toml v1.3.2\n\tgithub.com/google/uuid v1.6.0\n)\n")
	writeFile(t, root, "package.json", `{"dependencies": {"left-pad": "^1.0.0"}}`)

	report, err := NewEngine(root, nil).Validate(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, []string{
		"Missing dependency: github.com/google/uuid@v1.6.0",
		"Missing dependency: left-pad",
	}, report.Warnings)
}

func TestEngine_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(root, nil).Compile(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFormatReport(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "broken.go", "package broken\nfunc (\n")
	report, err := NewEngine(root, []string{"Makefile"}).Validate(context.Background())
	require.NoError(t, err)

	out := FormatReport(report)
	assert.Contains(t, out, "OVERALL STATUS: FAILED")
	assert.Contains(t, out, "- broken.go:")
	assert.Contains(t, out, "Critical file missing: Makefile")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), strings.Repeat("=", 60)))
}
