package llmrouter

import (
	"context"
	"encoding/json"
)

// Provider is the interface every LLM backend must implement.
//
// Send returns the raw structured payload produced by the model. Parsing and
// schema validation happen in the router so that malformed output can be
// classified as a provider failure and trigger fallback.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// Send submits the prompt context and prior plan history, returning the
	// model's structured plan payload.
	Send(ctx context.Context, pc PromptContext, history []PlanHistoryEntry) (json.RawMessage, error)
}

// Closer is implemented by providers that hold resources.
type Closer interface {
	Close() error
}
