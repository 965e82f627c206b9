package llmrouter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// mockProvider returns canned responses in sequence, then repeats the last.
type mockProvider struct {
	name      string
	responses []mockResponse
	calls     int
}

type mockResponse struct {
	raw json.RawMessage
	err error
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Send(ctx context.Context, pc PromptContext, history []PlanHistoryEntry) (json.RawMessage, error) {
	idx := m.calls
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	m.calls++
	r := m.responses[idx]
	return r.raw, r.err
}

func okPlan() json.RawMessage {
	return json.RawMessage(`{"summary":"do it","steps":[{"id":"s1","tool":"read_file","args":{"path":"main.go"}}]}`)
}

func failing(name string, err error) *mockProvider {
	return &mockProvider{name: name, responses: []mockResponse{{err: err}}}
}

func succeeding(name string) *mockProvider {
	return &mockProvider{name: name, responses: []mockResponse{{raw: okPlan()}}}
}

func TestReasonPrimarySucceeds(t *testing.T) {
	primary := succeeding("primary")
	backup := succeeding("backup")
	r := NewRouter([]Provider{primary, backup})

	plan, err := r.Reason(context.Background(), PromptContext{UserInput: "fix it"}, nil)
	if err != nil {
		t.Fatalf("Reason failed: %v", err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Tool != "read_file" {
		t.Errorf("unexpected plan: %+v", plan)
	}
	if backup.calls != 0 {
		t.Errorf("backup called %d times, want 0", backup.calls)
	}
}

func TestReasonFallbackOrder(t *testing.T) {
	primary := failing("primary", errors.New("connection refused"))
	backup := succeeding("backup")
	r := NewRouter([]Provider{primary, backup})

	plan, err := r.Reason(context.Background(), PromptContext{}, nil)
	if err != nil {
		t.Fatalf("Reason failed: %v", err)
	}
	if plan == nil {
		t.Fatal("expected a plan from backup")
	}
	if primary.calls != 1 || backup.calls != 1 {
		t.Errorf("calls = primary %d, backup %d; want 1, 1", primary.calls, backup.calls)
	}
}

func TestReasonMalformedPayloadAdvancesChain(t *testing.T) {
	primary := &mockProvider{name: "primary", responses: []mockResponse{
		{raw: json.RawMessage(`{"steps":[{"id":"a","tool":"x"},{"id":"a","tool":"y"}]}`)},
	}}
	backup := succeeding("backup")
	r := NewRouter([]Provider{primary, backup})

	if _, err := r.Reason(context.Background(), PromptContext{}, nil); err != nil {
		t.Fatalf("Reason failed: %v", err)
	}
	if backup.calls != 1 {
		t.Errorf("backup calls = %d, want 1", backup.calls)
	}
}

func TestReasonAllExhausted(t *testing.T) {
	r := NewRouter([]Provider{
		failing("a", errors.New("timeout")),
		failing("b", errors.New("429 too many requests")),
	})

	_, err := r.Reason(context.Background(), PromptContext{}, nil)
	if !IsReasoningUnavailable(err) {
		t.Fatalf("want ReasoningUnavailable, got %v", err)
	}

	var rue *ReasoningUnavailableError
	errors.As(err, &rue)
	if len(rue.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(rue.Attempts))
	}
	if rue.Attempts[0].Class != ClassTimeout {
		t.Errorf("first attempt class = %s, want %s", rue.Attempts[0].Class, ClassTimeout)
	}
	if rue.Attempts[1].Class != ClassRateLimited {
		t.Errorf("second attempt class = %s, want %s", rue.Attempts[1].Class, ClassRateLimited)
	}
}

func TestStreakMarksUnhealthyThenRecovers(t *testing.T) {
	primary := &mockProvider{name: "primary", responses: []mockResponse{
		{err: errors.New("timeout")},
		{err: errors.New("timeout")},
		{raw: okPlan()}, // half-open probe succeeds
	}}
	backup := succeeding("backup")

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRouter([]Provider{primary, backup},
		WithConfig(Config{StreakThreshold: 2, Cooldown: 30 * time.Second, CallTimeout: time.Minute}))
	r.now = func() time.Time { return clock }

	// Two consecutive timeouts mark primary unhealthy.
	for i := 0; i < 2; i++ {
		if _, err := r.Reason(context.Background(), PromptContext{}, nil); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}
	if got := r.Health()[0].State; got != ProviderUnhealthy {
		t.Fatalf("primary state = %s, want %s", got, ProviderUnhealthy)
	}

	// During cooldown the primary is skipped entirely.
	calls := primary.calls
	if _, err := r.Reason(context.Background(), PromptContext{}, nil); err != nil {
		t.Fatalf("cooldown turn: %v", err)
	}
	if primary.calls != calls {
		t.Errorf("primary called during cooldown")
	}

	// After the cooldown elapses the primary is probed half-open and, on
	// success, restored to healthy.
	clock = clock.Add(31 * time.Second)
	if _, err := r.Reason(context.Background(), PromptContext{}, nil); err != nil {
		t.Fatalf("probe turn: %v", err)
	}
	if primary.calls != calls+1 {
		t.Errorf("primary calls = %d, want %d", primary.calls, calls+1)
	}
	if got := r.Health()[0].State; got != ProviderHealthy {
		t.Errorf("primary state after probe = %s, want %s", got, ProviderHealthy)
	}
}

func TestFailedHalfOpenProbeReturnsToCooldown(t *testing.T) {
	primary := failing("primary", errors.New("connection refused"))
	backup := succeeding("backup")

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRouter([]Provider{primary, backup},
		WithConfig(Config{StreakThreshold: 1, Cooldown: 30 * time.Second, CallTimeout: time.Minute}))
	r.now = func() time.Time { return clock }

	if _, err := r.Reason(context.Background(), PromptContext{}, nil); err != nil {
		t.Fatalf("first turn: %v", err)
	}

	clock = clock.Add(31 * time.Second)
	if _, err := r.Reason(context.Background(), PromptContext{}, nil); err != nil {
		t.Fatalf("probe turn: %v", err)
	}

	status := r.Health()[0]
	if status.State != ProviderUnhealthy {
		t.Errorf("state = %s, want %s", status.State, ProviderUnhealthy)
	}
	if !status.CooldownUntil.Equal(clock.Add(30 * time.Second)) {
		t.Errorf("cooldown until = %v, want %v", status.CooldownUntil, clock.Add(30*time.Second))
	}
}

func TestReasonCancelledContextStopsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	backup := succeeding("backup")
	r := NewRouter([]Provider{failing("primary", context.Canceled), backup})

	_, err := r.Reason(ctx, PromptContext{}, nil)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if backup.calls != 0 {
		t.Errorf("backup called after cancellation")
	}
}

func TestTelemetryEmittedPerAttempt(t *testing.T) {
	var events []TelemetryEvent
	r := NewRouter(
		[]Provider{failing("primary", errors.New("timeout")), succeeding("backup")},
		WithTelemetry(func(ev TelemetryEvent) { events = append(events, ev) }),
	)

	if _, err := r.Reason(context.Background(), PromptContext{}, nil); err != nil {
		t.Fatalf("Reason failed: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Provider != "primary" || events[0].Outcome != string(ClassTimeout) {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Provider != "backup" || events[1].Outcome != "ok" {
		t.Errorf("second event = %+v", events[1])
	}
}

func TestHealthReportsDeclaredOrder(t *testing.T) {
	r := NewRouter([]Provider{succeeding("a"), succeeding("b"), succeeding("c")})
	statuses := r.Health()
	want := []string{"a", "b", "c"}
	for i, s := range statuses {
		if s.Name != want[i] {
			t.Errorf("status[%d] = %s, want %s", i, s.Name, want[i])
		}
		if s.State != ProviderHealthy {
			t.Errorf("status[%d].State = %s, want healthy", i, s.State)
		}
	}
}
