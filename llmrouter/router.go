package llmrouter

import (
	"context"
	"sync"
	"time"
)

// Config tunes the fallback and health behavior of the Router.
type Config struct {
	// StreakThreshold is the number of consecutive failures after which a
	// provider is marked unhealthy and skipped.
	StreakThreshold int

	// Cooldown is how long an unhealthy provider is skipped before it is
	// probed again half-open.
	Cooldown time.Duration

	// CallTimeout bounds each individual provider call.
	CallTimeout time.Duration
}

// DefaultConfig returns the default router configuration.
func DefaultConfig() Config {
	return Config{
		StreakThreshold: 2,
		Cooldown:        30 * time.Second,
		CallTimeout:     60 * time.Second,
	}
}

type providerHealth struct {
	streak        int
	state         ProviderState
	cooldownUntil time.Time
}

// Router is the provider gateway. It owns the ordered provider chain and all
// health state; callers interact only through Reason and Health. Health state
// is reset on construction and mutated solely by the Router's own calls.
type Router struct {
	providers []Provider
	schemas   SchemaSource
	telemetry TelemetryFunc
	cfg       Config

	mu     sync.Mutex
	health map[string]*providerHealth

	now func() time.Time // overridable in tests
}

// Option configures a Router.
type Option func(*Router)

// WithSchemas sets the schema source used to validate returned plans.
func WithSchemas(s SchemaSource) Option {
	return func(r *Router) { r.schemas = s }
}

// WithTelemetry sets the telemetry sink.
func WithTelemetry(fn TelemetryFunc) Option {
	return func(r *Router) { r.telemetry = fn }
}

// WithConfig overrides the default configuration.
func WithConfig(cfg Config) Option {
	return func(r *Router) { r.cfg = cfg }
}

// NewRouter creates a Router over providers in fallback order (primary first).
func NewRouter(providers []Provider, opts ...Option) *Router {
	r := &Router{
		providers: providers,
		cfg:       DefaultConfig(),
		health:    make(map[string]*providerHealth, len(providers)),
		now:       time.Now,
	}
	for _, p := range providers {
		r.health[p.Name()] = &providerHealth{state: ProviderHealthy}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reason obtains a validated Plan from the first provider that succeeds,
// advancing through the chain on transient failures. When every provider
// fails or is cooling down it returns *ReasoningUnavailableError.
func (r *Router) Reason(ctx context.Context, pc PromptContext, history []PlanHistoryEntry) (*Plan, error) {
	var attempts []*ProviderError

	for _, p := range r.providers {
		if !r.admit(p.Name()) {
			attempts = append(attempts, &ProviderError{
				Provider: p.Name(),
				Class:    ClassUnreachable,
				Message:  "provider cooling down",
			})
			continue
		}

		plan, perr := r.try(ctx, p, pc, history)
		if perr == nil {
			r.recordSuccess(p.Name())
			return plan, nil
		}

		r.recordFailure(p.Name())
		attempts = append(attempts, perr)

		// User cancellation is not a provider fault; stop the chain.
		if ctx.Err() != nil {
			break
		}
	}

	return nil, &ReasoningUnavailableError{Attempts: attempts}
}

// try runs a single provider attempt: call, classify, parse, validate.
func (r *Router) try(ctx context.Context, p Provider, pc PromptContext, history []PlanHistoryEntry) (*Plan, *ProviderError) {
	callCtx := ctx
	if r.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
		defer cancel()
	}

	start := r.now()
	raw, err := p.Send(callCtx, pc, history)
	latency := r.now().Sub(start)

	if err != nil {
		perr := Classify(p.Name(), err)
		r.emit(TelemetryEvent{Provider: p.Name(), Latency: latency, Outcome: string(perr.Class), Timestamp: start})
		return nil, perr
	}

	plan, verr := ParsePlan(raw, r.schemas)
	if verr != nil {
		perr := &ProviderError{Provider: p.Name(), Class: ClassMalformed, Message: verr.Error(), Cause: verr}
		r.emit(TelemetryEvent{Provider: p.Name(), Latency: latency, Outcome: string(ClassMalformed), Timestamp: start})
		return nil, perr
	}

	r.emit(TelemetryEvent{Provider: p.Name(), Latency: latency, Outcome: "ok", Timestamp: start})
	return plan, nil
}

// admit reports whether a provider may be called right now. An unhealthy
// provider whose cooldown has elapsed transitions to half-open and is
// admitted as a probe.
func (r *Router) admit(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.health[name]
	if h == nil {
		return false
	}
	switch h.state {
	case ProviderUnhealthy:
		if r.now().Before(h.cooldownUntil) {
			return false
		}
		h.state = ProviderHalfOpen
		return true
	default:
		return true
	}
}

func (r *Router) recordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.health[name]
	h.streak = 0
	h.state = ProviderHealthy
	h.cooldownUntil = time.Time{}
}

func (r *Router) recordFailure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.health[name]
	h.streak++
	// A failed half-open probe goes straight back to cooling down.
	if h.state == ProviderHalfOpen || h.streak >= r.cfg.StreakThreshold {
		h.state = ProviderUnhealthy
		h.cooldownUntil = r.now().Add(r.cfg.Cooldown)
	}
}

// Health returns per-provider status in declared fallback order.
func (r *Router) Health() []ProviderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	statuses := make([]ProviderStatus, 0, len(r.providers))
	for _, p := range r.providers {
		h := r.health[p.Name()]
		statuses = append(statuses, ProviderStatus{
			Name:          p.Name(),
			State:         h.state,
			FailureStreak: h.streak,
			CooldownUntil: h.cooldownUntil,
		})
	}
	return statuses
}

// Close releases resources held by providers that implement Closer.
func (r *Router) Close() error {
	var firstErr error
	for _, p := range r.providers {
		if closer, ok := p.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) emit(ev TelemetryEvent) {
	if r.telemetry != nil {
		r.telemetry(ev)
	}
}
