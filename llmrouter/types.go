package llmrouter

import (
	"time"

	"github.com/google/uuid"
)

// PlanStep is a single tool invocation proposed by a provider.
type PlanStep struct {
	ID        string         `json:"id"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args"`
	Mutating  bool           `json:"mutating"`
	Rationale string         `json:"rationale,omitempty"`

	// DependsOn lists step ids whose output this step consumes. A failure in
	// any of them halts this step unless the executor is configured otherwise.
	DependsOn []string `json:"depends_on,omitempty"`

	// Targets declares the file paths or VCS refs this step touches. The
	// executor serializes mutating steps whose targets intersect.
	Targets []string `json:"targets,omitempty"`
}

// Plan is an ordered sequence of steps. Plans are immutable once returned;
// the executor may stop early but never rewrites a returned plan.
type Plan struct {
	ID      string     `json:"id"`
	Summary string     `json:"summary,omitempty"`
	Steps   []PlanStep `json:"steps"`
}

// NewPlanID returns a fresh plan identifier.
func NewPlanID() string {
	return "plan_" + uuid.New().String()[:8]
}

// ToolSummary describes one registered tool to the provider.
type ToolSummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Required    []string `json:"required,omitempty"`
	Optional    []string `json:"optional,omitempty"`
	Mutating    bool     `json:"mutating"`

	// Effectiveness from the memory store, surfaced so the model can prefer
	// tools that have worked before in this project.
	UsageCount  int     `json:"usage_count,omitempty"`
	SuccessRate float64 `json:"success_rate,omitempty"`
}

// PromptContext carries the per-turn snapshot handed to providers. It is
// built once per loop iteration and read-only from the router's point of view.
type PromptContext struct {
	UserInput     string             `json:"user_input"`
	WorkingDir    string             `json:"working_dir"`
	Branch        string             `json:"branch,omitempty"`
	DiffSummary   string             `json:"diff_summary,omitempty"`
	ModifiedFiles []string           `json:"modified_files,omitempty"`
	RecentActions []string           `json:"recent_actions,omitempty"`
	Tools         []ToolSummary      `json:"tools"`
	Preferences   map[string]float64 `json:"preferences,omitempty"`
}

// PlanHistoryEntry summarizes an earlier plan from the same session so the
// provider can see what was already tried.
type PlanHistoryEntry struct {
	Summary  string `json:"summary"`
	Outcomes string `json:"outcomes"`
}

// ProviderState is the health lifecycle of one provider in the chain.
type ProviderState string

const (
	ProviderHealthy   ProviderState = "healthy"
	ProviderUnhealthy ProviderState = "unhealthy"
	ProviderHalfOpen  ProviderState = "half_open"
)

// ProviderStatus is a point-in-time view of one provider's health.
type ProviderStatus struct {
	Name          string        `json:"name"`
	State         ProviderState `json:"state"`
	FailureStreak int           `json:"failure_streak"`
	CooldownUntil time.Time     `json:"cooldown_until,omitempty"`
}

// TelemetryEvent is emitted after every provider attempt. The memory store
// consumes these for trend reporting; the router itself never persists them.
type TelemetryEvent struct {
	Provider  string        `json:"provider"`
	Latency   time.Duration `json:"latency"`
	Outcome   string        `json:"outcome"` // "ok" or an ErrorClass string
	Timestamp time.Time     `json:"timestamp"`
}

// TelemetryFunc receives telemetry events. Must not block.
type TelemetryFunc func(TelemetryEvent)
