package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/mod/modfile"
	"golang.org/x/mod/module"
)

// CheckDependencies is best-effort: it never fails validation, it only
// reports what looks unresolvable.
func (e *Engine) CheckDependencies(ctx context.Context) []string {
	var warnings []string
	warnings = append(warnings, e.checkGoModules()...)
	if ctx.Err() != nil {
		return warnings
	}
	warnings = append(warnings, e.checkNodeModules()...)
	return warnings
}

func (e *Engine) checkGoModules() []string {
	path := filepath.Join(e.Root, "go.mod")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	f, err := modfile.Parse(path, data, nil)
	if err != nil {
		return []string{fmt.Sprintf("Failed to read go.mod: %v", err)}
	}

	cache := moduleCache()
	if _, err := os.Stat(cache); err != nil {
		if len(f.Require) > 0 {
			return []string{fmt.Sprintf("Module cache %s not found; %d go dependencies unchecked", cache, len(f.Require))}
		}
		return nil
	}

	var warnings []string
	for _, req := range f.Require {
		escaped, err := module.EscapePath(req.Mod.Path)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("Invalid module path: %s", req.Mod.Path))
			continue
		}
		dir := filepath.Join(cache, escaped+"@"+req.Mod.Version)
		if _, err := os.Stat(dir); err != nil {
			warnings = append(warnings, fmt.Sprintf("Missing dependency: %s@%s", req.Mod.Path, req.Mod.Version))
		}
	}
	return warnings
}

func moduleCache() string {
	if dir := os.Getenv("GOMODCACHE"); dir != "" {
		return dir
	}
	gopath := os.Getenv("GOPATH")
	if gopath == "" {
		home, _ := os.UserHomeDir()
		gopath = filepath.Join(home, "go")
	}
	return filepath.Join(filepath.SplitList(gopath)[0], "pkg", "mod")
}

func (e *Engine) checkNodeModules() []string {
	data, err := os.ReadFile(filepath.Join(e.Root, "package.json"))
	if err != nil {
		return nil
	}
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return []string{fmt.Sprintf("Failed to read package.json: %v", err)}
	}

	var names []string
	for name := range pkg.Dependencies {
		names = append(names, name)
	}
	for name := range pkg.DevDependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	var warnings []string
	for _, name := range names {
		if _, err := os.Stat(filepath.Join(e.Root, "node_modules", name)); err != nil {
			warnings = append(warnings, "Missing dependency: "+name)
		}
	}
	return warnings
}
