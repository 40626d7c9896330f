package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"os/exec"
	"strings"

	"gopkg.in/yaml.v3"
)

// checker reports a syntax problem in one file, or nil.
type checker func(ctx context.Context, path string, data []byte) error

func defaultCheckers() map[string]checker {
	m := map[string]checker{
		".go":   checkGo,
		".json": checkJSON,
		".yaml": checkYAML,
		".yml":  checkYAML,
	}
	if python, err := exec.LookPath("python3"); err == nil {
		m[".py"] = pythonChecker(python)
	}
	return m
}

func checkGo(_ context.Context, path string, data []byte) error {
	_, err := parser.ParseFile(token.NewFileSet(), path, data, parser.AllErrors)
	return err
}

func checkJSON(_ context.Context, _ string, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			line := bytes.Count(data[:syn.Offset], []byte("\n")) + 1
			return fmt.Errorf("line %d: %v", line, err)
		}
		return err
	}
	return nil
}

func checkYAML(_ context.Context, _ string, data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var v any
		err := dec.Decode(&v)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// pythonChecker parses the file with the interpreter's ast module. It never
// writes bytecode.
func pythonChecker(python string) checker {
	const script = "import ast,sys\nsrc=open(sys.argv[1],encoding='utf-8').read()\nast.parse(src,sys.argv[1])"
	return func(ctx context.Context, path string, _ []byte) error {
		cmd := exec.CommandContext(ctx, python, "-c", script, path)
		out, err := cmd.CombinedOutput()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lines := strings.Split(strings.TrimSpace(string(out)), "\n")
		return errors.New(lastLines(lines, 3))
	}
}

func lastLines(lines []string, n int) string {
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
