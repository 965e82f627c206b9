// Package llmrouter routes plan requests across an ordered chain of LLM
// providers. The primary provider is tried first; transient failures
// (timeout, rate limit, malformed output, unreachable) advance the request to
// the next provider in declared order. Per-provider failure streaks feed a
// health tracker: a provider that fails too many times in a row is skipped
// for a cooldown window and then probed again half-open.
//
// Responses are validated against the plan schema before being returned.
// A schema violation counts as a provider failure, never reaches the caller.
// When every provider has been exhausted the router returns
// *ReasoningUnavailableError; callers must not fabricate a plan.
package llmrouter
