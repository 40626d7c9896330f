package agent

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/rahul/autopilot/internal/governance"
	"github.com/rahul/autopilot/internal/llm"
	"github.com/rahul/autopilot/internal/observability"
	"github.com/rahul/autopilot/internal/store"
)

// maxFileContext caps how much of each affected file goes into a patch prompt.
const maxFileContext = 6000

// FileEdit replaces one workspace file wholesale.
type FileEdit struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Patch is the corrective artifact for one failure.
type Patch struct {
	Explanation string         `json:"explanation"`
	Files       []FileEdit     `json:"files"`
	Params      map[string]any `json:"params,omitempty"`
}

// Empty reports whether the patch proposes nothing.
func (p *Patch) Empty() bool {
	return p == nil || (len(p.Files) == 0 && len(p.Params) == 0)
}

// PatchRequest is what the patcher sees of a failure.
type PatchRequest struct {
	Goal    string
	Step    *store.Step
	Params  map[string]any
	Error   string
	Files   map[string]string
	Context string
}

// Patcher asks the text-generation collaborator for a Patch.
type Patcher struct {
	gen     llm.Generator
	prompts *PromptManager
}

func NewPatcher(gen llm.Generator, prompts *PromptManager) *Patcher {
	if prompts == nil {
		prompts = NewPromptManager("")
	}
	return &Patcher{gen: gen, prompts: prompts}
}

func (p *Patcher) Propose(ctx context.Context, req PatchRequest) (*Patch, error) {
	task, err := p.prompts.GetPatchPrompt()
	if err != nil {
		return nil, err
	}
	text, err := p.gen.Generate(ctx, patchPrompt(req), p.prompts.SystemPrompt(task))
	if err != nil {
		if llm.IsTokenLimitError(err) {
			return nil, fmt.Errorf("%w: %w", ErrTokenLimit, err)
		}
		return nil, err
	}
	var patch Patch
	if err := llm.DecodeObject(text, &patch); err != nil {
		return nil, err
	}
	return &patch, nil
}

func patchPrompt(req PatchRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n\n", req.Goal)
	if req.Context != "" {
		b.WriteString(req.Context)
		b.WriteString("\n\n")
	}
	if req.Step != nil {
		fmt.Fprintf(&b, "Failed step %d: %s\n", req.Step.ID, req.Step.Description)
		fmt.Fprintf(&b, "Capability: %s | Operation: %s\n", req.Step.Capability, req.Step.Operation)
		if len(req.Params) > 0 {
			params, _ := json.Marshal(req.Params)
			fmt.Fprintf(&b, "Params: %s\n", params)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "The following error occurred during execution:\n%s\n", req.Error)
	for path, content := range req.Files {
		if len(content) > maxFileContext {
			content = observability.Clip(content, maxFileContext) + "\n... (truncated)"
		}
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", path, content)
	}
	b.WriteString("\nReturn the JSON fix.")
	return b.String()
}

// patchOutcome records what applying a patch actually changed.
type patchOutcome struct {
	Changed []string
	Params  map[string]any
}

func (o patchOutcome) applied() bool {
	return len(o.Changed) > 0 || len(o.Params) > 0
}

// patch obtains a corrective artifact and applies it. File edits go through
// the filesystem capability behind a write permission check, and each edit
// only counts when the file content is different afterwards.
func (o *Orchestrator) patch(ctx context.Context, runID string, req PatchRequest, attempt int) (patchOutcome, error) {
	var out patchOutcome
	if o.patcher == nil {
		return out, fmt.Errorf("no patcher configured")
	}

	req.Files = o.affectedFiles(ctx, req.Files)
	p, err := o.patcher.Propose(ctx, req)
	if err != nil {
		o.logger.LogPatch(runID, attempt, false, err.Error())
		o.metrics.ObservePatch(false)
		return out, err
	}
	if p.Empty() {
		o.logger.LogPatch(runID, attempt, false, "empty patch: "+p.Explanation)
		o.metrics.ObservePatch(false)
		return out, fmt.Errorf("patch proposed no changes: %s", p.Explanation)
	}

	var problems []string
	for _, edit := range p.Files {
		changed, err := o.applyFileEdit(ctx, edit)
		switch {
		case err != nil:
			problems = append(problems, err.Error())
		case changed:
			out.Changed = append(out.Changed, edit.Path)
		}
	}
	if len(p.Params) > 0 {
		out.Params = p.Params
	}

	detail := p.Explanation
	if len(problems) > 0 {
		detail += " (" + strings.Join(problems, "; ") + ")"
	}
	o.logger.LogPatch(runID, attempt, out.applied(), detail)
	o.metrics.ObservePatch(out.applied())

	if !out.applied() {
		if len(problems) > 0 {
			return out, fmt.Errorf("patch could not be applied: %s", strings.Join(problems, "; "))
		}
		return out, fmt.Errorf("patch produced no effect")
	}
	log.Printf("[Orchestrator] Patch applied: %d file(s) changed, %d param(s) amended", len(out.Changed), len(out.Params))
	return out, nil
}

func (o *Orchestrator) applyFileEdit(ctx context.Context, edit FileEdit) (bool, error) {
	if strings.TrimSpace(edit.Path) == "" {
		return false, fmt.Errorf("patch file entry has no path")
	}
	params := map[string]any{"path": edit.Path, "content": edit.Content}
	detail := o.registry.Describe(patchCapability, "write_file", params)
	res, err := o.gate.Evaluate(ctx, governance.Request{Operation: governance.OpWrite, Detail: detail})
	if err != nil || !res.Allowed() {
		o.metrics.IncPermissionDenied(string(governance.OpWrite))
		return false, fmt.Errorf("%w: patch write to %s: %s", ErrPermissionDenied, edit.Path, res.Reason)
	}

	before := o.readFile(ctx, edit.Path)
	result := o.executor.Execute(ctx, patchCapability, "write_file", params)
	if !result.Success {
		return false, fmt.Errorf("write %s: %s", edit.Path, result.Error)
	}
	after := o.readFile(ctx, edit.Path)
	if sha256.Sum256([]byte(after)) != sha256.Sum256([]byte(edit.Content)) {
		return false, fmt.Errorf("write %s: content on disk does not match the patch", edit.Path)
	}
	return sha256.Sum256([]byte(before)) != sha256.Sum256([]byte(after)), nil
}

// readFile returns the file content, or "" when it cannot be read.
func (o *Orchestrator) readFile(ctx context.Context, path string) string {
	res := o.executor.Execute(ctx, patchCapability, "read_file", map[string]any{"path": path})
	if !res.Success {
		return ""
	}
	return res.Output
}

// affectedFiles loads the current content of the named files for the prompt.
func (o *Orchestrator) affectedFiles(ctx context.Context, files map[string]string) map[string]string {
	out := make(map[string]string, len(files))
	for path, content := range files {
		if content == "" {
			content = o.readFile(ctx, path)
		}
		out[path] = content
	}
	return out
}
