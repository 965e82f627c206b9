package llmrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/teilomillet/gollm"
)

// defaultModels maps provider identifiers to a reasonable default model when
// the configuration does not name one.
var defaultModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-3-5-haiku-latest",
	"groq":      "llama-3.3-70b-versatile",
	"ollama":    "llama3.2",
}

// DefaultModel returns the default model id for a provider, or empty when the
// provider is unknown.
func DefaultModel(provider string) string {
	return defaultModels[provider]
}

// GollmProvider is a production Provider backed by gollm.
type GollmProvider struct {
	name  string
	llm   gollm.LLM
	model string
}

// GollmOption configures a GollmProvider.
type GollmOption func(*gollmConfig)

type gollmConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
}

// WithAPIKey sets the API key. If empty, gollm reads it from the environment.
func WithAPIKey(key string) GollmOption {
	return func(c *gollmConfig) { c.apiKey = key }
}

// WithModel sets the model id used for plan requests.
func WithModel(model string) GollmOption {
	return func(c *gollmConfig) { c.model = model }
}

// WithMaxTokens sets the response token budget.
func WithMaxTokens(n int) GollmOption {
	return func(c *gollmConfig) { c.maxTokens = n }
}

// NewGollmProvider creates a gollm-backed provider for the given backend.
func NewGollmProvider(provider string, opts ...GollmOption) (*GollmProvider, error) {
	cfg := &gollmConfig{maxTokens: 4096, temperature: 0.2}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		model = DefaultModel(provider)
	}
	if model == "" {
		return nil, fmt.Errorf("no model configured for provider %q", provider)
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // the router handles fallback, not the backend
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gollm backend for %s: %w", provider, err)
	}

	return &GollmProvider{name: provider, llm: llm, model: model}, nil
}

// NewGollmProviderFromLLM wraps an existing gollm.LLM instance. Used in tests
// and by hosts that configure gollm themselves.
func NewGollmProviderFromLLM(name string, llm gollm.LLM) *GollmProvider {
	return &GollmProvider{name: name, llm: llm}
}

// Name returns the provider identifier.
func (p *GollmProvider) Name() string { return p.name }

// Send builds the planning prompt, calls the backend, and extracts the JSON
// plan payload from the completion text.
func (p *GollmProvider) Send(ctx context.Context, pc PromptContext, history []PlanHistoryEntry) (json.RawMessage, error) {
	prompt := gollm.NewPrompt(
		buildPlanPrompt(pc, history),
		gollm.WithSystemPrompt(planSystemPrompt, gollm.CacheTypeEphemeral),
	)

	text, err := p.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, p.classify(err)
	}

	raw := extractJSON(text)
	if raw == nil {
		return nil, &ProviderError{
			Provider: p.name,
			Class:    ClassMalformed,
			Message:  "completion contains no JSON object",
		}
	}
	return raw, nil
}

const planSystemPrompt = `You are a coding agent planner. Given the repository
context and the user's request, respond with a single JSON object:

{"summary": "...", "steps": [{"id": "s1", "tool": "...", "args": {...},
"mutating": true|false, "rationale": "...", "depends_on": [], "targets": []}]}

Only reference tools listed in the context. Every required argument must be
present. Declare the file paths a mutating step touches in "targets", and
list in "depends_on" the ids of earlier steps whose output the step needs.
Respond with the JSON object only, no prose.`

func buildPlanPrompt(pc PromptContext, history []PlanHistoryEntry) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Working directory: %s\n", pc.WorkingDir)
	if pc.Branch != "" {
		fmt.Fprintf(&sb, "Branch: %s\n", pc.Branch)
	}
	if len(pc.ModifiedFiles) > 0 {
		fmt.Fprintf(&sb, "Modified files: %s\n", strings.Join(pc.ModifiedFiles, ", "))
	}
	if pc.DiffSummary != "" {
		fmt.Fprintf(&sb, "Diff summary:\n%s\n", pc.DiffSummary)
	}
	if len(pc.RecentActions) > 0 {
		fmt.Fprintf(&sb, "Recent actions:\n- %s\n", strings.Join(pc.RecentActions, "\n- "))
	}

	sb.WriteString("\nAvailable tools:\n")
	for _, t := range pc.Tools {
		fmt.Fprintf(&sb, "- %s: %s (required: %s; mutating: %v",
			t.Name, t.Description, strings.Join(t.Required, ","), t.Mutating)
		if t.UsageCount > 0 {
			fmt.Fprintf(&sb, "; success rate %.0f%% over %d uses", t.SuccessRate*100, t.UsageCount)
		}
		sb.WriteString(")\n")
	}

	if len(pc.Preferences) > 0 {
		prefs, _ := json.Marshal(pc.Preferences)
		fmt.Fprintf(&sb, "\nLearned preferences (pattern -> confidence): %s\n", prefs)
	}

	for _, h := range history {
		fmt.Fprintf(&sb, "\nEarlier plan: %s -> %s\n", h.Summary, h.Outcomes)
	}

	fmt.Fprintf(&sb, "\nUser request: %s\n", pc.UserInput)
	return sb.String()
}

// extractJSON returns the first balanced top-level JSON object in text, or
// nil when none exists. Models sometimes wrap the payload in code fences or
// leading prose.
func extractJSON(text string) json.RawMessage {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return nil
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := json.RawMessage(text[start : i+1])
				if json.Valid(candidate) {
					return candidate
				}
				return nil
			}
		}
	}
	return nil
}

// classify maps gollm errors into the router's error classes based on
// message content, since gollm does not expose typed errors.
func (p *GollmProvider) classify(err error) *ProviderError {
	lower := strings.ToLower(err.Error())
	class := ClassUnreachable
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		class = ClassTimeout
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		class = ClassRateLimited
	}
	return &ProviderError{Provider: p.name, Class: class, Message: err.Error(), Cause: err}
}
