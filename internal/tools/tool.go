package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rahul/autopilot/internal/governance"
)

var (
	ErrUnknownCapability = errors.New("unknown capability")
	ErrUnknownOperation  = errors.New("unknown operation")
)

// Operation is one named action a capability can perform. Kind is the
// operation type the permission gate checks before the step runs.
type Operation struct {
	Name        string                   `json:"name"`
	Kind        governance.OperationType `json:"kind"`
	Description string                   `json:"description"`
	Params      []string                 `json:"params,omitempty"`
}

// StepResult is what a capability reports back for one step.
type StepResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

func Ok(output string) StepResult {
	return StepResult{Success: true, Output: output}
}

func Fail(format string, args ...any) StepResult {
	return StepResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Text renders the result for the state record.
func (r StepResult) Text() string {
	if r.Success {
		return r.Output
	}
	if r.Output != "" {
		return r.Error + "\n" + r.Output
	}
	return r.Error
}

// Capability defines the interface for all step executors.
type Capability interface {
	Name() string
	Description() string
	Operations() []Operation
	Execute(ctx context.Context, operation string, params map[string]any) StepResult
}

// Describer is implemented by capabilities that can summarise a step for
// the permission gate (a shell command, a target path).
type Describer interface {
	Describe(operation string, params map[string]any) string
}

// Info is the planner-facing view of a capability.
type Info struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Operations  []Operation `json:"operations"`
}

// Registry manages the set of available capabilities.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

func NewRegistry() *Registry {
	return &Registry{
		caps: make(map[string]Capability),
	}
}

func (r *Registry) Register(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[c.Name()] = c
}

func (r *Registry) Get(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	return c, ok
}

// Names returns the registered capability names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Infos() []Info {
	var infos []Info
	for _, name := range r.Names() {
		c, _ := r.Get(name)
		infos = append(infos, Info{
			Name:        c.Name(),
			Description: c.Description(),
			Operations:  c.Operations(),
		})
	}
	return infos
}

// Lookup resolves a capability operation.
func (r *Registry) Lookup(capability, operation string) (Operation, error) {
	c, ok := r.Get(capability)
	if !ok {
		return Operation{}, fmt.Errorf("%w: %q", ErrUnknownCapability, capability)
	}
	for _, op := range c.Operations() {
		if op.Name == operation {
			return op, nil
		}
	}
	return Operation{}, fmt.Errorf("%w: %q for capability %q", ErrUnknownOperation, operation, capability)
}

// Describe summarises a step for permission checks and audit lines.
func (r *Registry) Describe(capability, operation string, params map[string]any) string {
	if c, ok := r.Get(capability); ok {
		if d, ok := c.(Describer); ok {
			if s := d.Describe(operation, params); s != "" {
				return s
			}
		}
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := []string{capability + "." + operation}
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, " ")
}

// FormatInfos renders capability infos for a prompt.
func FormatInfos(infos []Info) string {
	var sb strings.Builder
	for _, info := range infos {
		fmt.Fprintf(&sb, "- %s: %s\n", info.Name, info.Description)
		for _, op := range info.Operations {
			fmt.Fprintf(&sb, "    - %s (%s): %s", op.Name, op.Kind, op.Description)
			if len(op.Params) > 0 {
				fmt.Fprintf(&sb, " params: %s", strings.Join(op.Params, ", "))
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
