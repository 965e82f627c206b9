package llmrouter

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass classifies a provider failure. Every class is transient from the
// router's point of view: the request advances to the next provider in order.
type ErrorClass string

const (
	ClassTimeout     ErrorClass = "timeout"
	ClassRateLimited ErrorClass = "rate_limited"
	ClassMalformed   ErrorClass = "malformed_output"
	ClassUnreachable ErrorClass = "unreachable"
)

// ProviderError is a classified failure from a single provider attempt.
type ProviderError struct {
	Provider string
	Class    ErrorClass
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Provider, e.Class, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Class, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Classify wraps err as a ProviderError. Context deadline errors map to
// timeout; anything without a recognizable class is treated as unreachable.
func Classify(provider string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	class := ClassUnreachable
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		class = ClassTimeout
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests"):
		class = ClassRateLimited
	}

	return &ProviderError{Provider: provider, Class: class, Message: msg, Cause: err}
}

// ReasoningUnavailableError is returned when every configured provider has
// failed or is cooling down. It carries the last error from each attempt so
// the failing providers can be reported verbatim.
type ReasoningUnavailableError struct {
	Attempts []*ProviderError
}

func (e *ReasoningUnavailableError) Error() string {
	if len(e.Attempts) == 0 {
		return "reasoning unavailable: no providers configured"
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Error()
	}
	return "reasoning unavailable: " + strings.Join(parts, "; ")
}

// IsReasoningUnavailable reports whether err means all providers were exhausted.
func IsReasoningUnavailable(err error) bool {
	var rue *ReasoningUnavailableError
	return errors.As(err, &rue)
}
