package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dstanton/tiller/llmrouter"
)

// Risk grades how much damage a tool invocation can do. Previews surface it;
// low-risk operations are eligible for auto-approval.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Outcome is the structured result of one tool invocation. Tool failures are
// reported here, not as Go errors; errors from Invoke mean the tool body was
// never reached.
type Outcome struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
}

// RunFunc executes a tool against the workspace with validated arguments.
type RunFunc func(ctx context.Context, args Args, ws *Workspace) Outcome

// TargetsFunc reports the file paths or VCS refs an invocation will touch,
// given its arguments. Used to serialize overlapping mutating steps and to
// scope checkpoints.
type TargetsFunc func(args Args) []string

// Descriptor declares one registered tool.
type Descriptor struct {
	Name        string
	Description string
	Schema      Schema
	Mutating    bool
	Risk        Risk

	// Targets is consulted only for mutating tools. Nil means the tool
	// declares a single "path" argument as its target.
	Targets TargetsFunc

	Run RunFunc
}

// NotFoundError reports an unregistered tool name.
type NotFoundError struct {
	Tool string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Tool)
}

// Registry maps tool names to descriptors. Registration happens once at
// startup; lookups are read-only for the rest of the session.
type Registry struct {
	ws *Workspace

	mu    sync.RWMutex
	tools map[string]*Descriptor
}

// NewRegistry creates an empty registry bound to a workspace.
func NewRegistry(ws *Workspace) *Registry {
	return &Registry{
		ws:    ws,
		tools: make(map[string]*Descriptor),
	}
}

// Register adds or replaces a descriptor.
func (r *Registry) Register(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[d.Name] = &d
}

// Resolve returns the descriptor for name, or *NotFoundError.
func (r *Registry) Resolve(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	if !ok {
		return nil, &NotFoundError{Tool: name}
	}
	return d, nil
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// RequiredFields implements llmrouter.SchemaSource so plans can be validated
// against registered schemas at the gateway.
func (r *Registry) RequiredFields(tool string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[tool]
	if !ok {
		return nil, false
	}
	return d.Schema.RequiredFields(), true
}

// Summaries describes the registered tools for the reasoning prompt, sorted
// by name for deterministic prompt content.
func (r *Registry) Summaries() []llmrouter.ToolSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llmrouter.ToolSummary, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, llmrouter.ToolSummary{
			Name:        d.Name,
			Description: d.Description,
			Required:    d.Schema.RequiredFields(),
			Optional:    d.Schema.OptionalFields(),
			Mutating:    d.Mutating,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Targets reports the declared targets of one invocation of d.
func (r *Registry) Targets(d *Descriptor, args Args) []string {
	if !d.Mutating {
		return nil
	}
	if d.Targets != nil {
		return d.Targets(args)
	}
	if path, ok := args.String("path"); ok {
		return []string{path}
	}
	return nil
}

// Invoke validates args against the descriptor's schema and runs the tool.
// Validation failures return *InvalidArgumentsError without touching the tool
// body. Tool-level failures come back as Outcome.Success=false with a
// non-empty Error. Output is truncated per tool so a single pathological
// invocation cannot flood the session log.
func (r *Registry) Invoke(ctx context.Context, d *Descriptor, args map[string]any) (Outcome, error) {
	if args == nil {
		args = map[string]any{}
	}
	if err := d.Schema.Validate(d.Name, args); err != nil {
		return Outcome{}, err
	}

	out := d.Run(ctx, Args(args), r.ws)
	out.Output = TruncateForTool(out.Output, d.Name)
	return out, nil
}
