package agent

import (
	"embed"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed prompts/*.md
var defaultPrompts embed.FS

// Task prompts are loaded by name and never folded into the persona.
var taskPrompts = map[string]bool{
	"planner.md": true,
	"patch.md":   true,
}

type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

// GetPersona joins the persona files in the prompt directory: identity,
// soul, capabilities, directive and user first, then the rest by name.
func (pm *PromptManager) GetPersona() (string, error) {
	files, err := os.ReadDir(pm.Directory)
	if err != nil {
		return "", fmt.Errorf("failed to read prompts directory: %v", err)
	}

	var contents []string

	order := map[string]int{
		"identity.md":     1,
		"soul.md":         2,
		"capabilities.md": 3,
		"directive.md":    4,
		"user.md":         5,
	}

	sort.Slice(files, func(i, j int) bool {
		oi, okI := order[files[i].Name()]
		oj, okJ := order[files[j].Name()]
		if okI && okJ {
			return oi < oj
		}
		if okI {
			return true
		}
		if okJ {
			return false
		}
		return files[i].Name() < files[j].Name()
	})

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".md") || taskPrompts[f.Name()] {
			continue
		}
		path := filepath.Join(pm.Directory, f.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Warning: Failed to read prompt file %s: %v", path, err)
			continue
		}
		contents = append(contents, string(data))
	}

	if len(contents) == 0 {
		return "", fmt.Errorf("no prompt files found in %s", pm.Directory)
	}

	return strings.Join(contents, "\n\n---\n\n"), nil
}

func (pm *PromptManager) GetPlannerPrompt() (string, error) {
	return pm.load("planner.md")
}

func (pm *PromptManager) GetPatchPrompt() (string, error) {
	return pm.load("patch.md")
}

// SystemPrompt puts the persona, when there is one, ahead of a task prompt.
func (pm *PromptManager) SystemPrompt(task string) string {
	persona, err := pm.GetPersona()
	if err != nil || persona == "" {
		return task
	}
	return persona + "\n\n---\n\n" + task
}

// load prefers a file in Directory and falls back to the built-in prompt.
func (pm *PromptManager) load(name string) (string, error) {
	if pm.Directory != "" {
		data, err := os.ReadFile(filepath.Join(pm.Directory, name))
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to read %s: %v", name, err)
		}
	}
	data, err := defaultPrompts.ReadFile("prompts/" + name)
	if err != nil {
		return "", fmt.Errorf("no prompt named %s", name)
	}
	return string(data), nil
}
