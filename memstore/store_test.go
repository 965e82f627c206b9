package memstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestReinforceSmoothing(t *testing.T) {
	s := openTestStore(t)

	// First observation moves the 0.5 prior toward the signal.
	require.NoError(t, s.Reinforce("pattern.a", 1.0))
	rec, found, err := s.Preference("pattern.a")
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 0.65, rec.Score, 1e-9)
	assert.Equal(t, 1, rec.SampleCount)
	assert.False(t, rec.LastUpdated.IsZero())

	// Repeated reinforcement converges upward, repeated decay downward.
	for i := 0; i < 50; i++ {
		require.NoError(t, s.Reinforce("pattern.a", 1.0))
	}
	rec, _, err = s.Preference("pattern.a")
	require.NoError(t, err)
	assert.Greater(t, rec.Score, 0.99)
	assert.Equal(t, 51, rec.SampleCount)

	for i := 0; i < 50; i++ {
		require.NoError(t, s.Reinforce("pattern.a", 0.0))
	}
	rec, _, err = s.Preference("pattern.a")
	require.NoError(t, err)
	assert.Less(t, rec.Score, 0.01)
}

func TestReinforceScoresStayBounded(t *testing.T) {
	s := openTestStore(t)

	// Out-of-range signals are clamped before smoothing.
	for i := 0; i < 100; i++ {
		require.NoError(t, s.Reinforce("bounded", 5.0))
	}
	rec, _, err := s.Preference("bounded")
	require.NoError(t, err)
	assert.LessOrEqual(t, rec.Score, 1.0)

	for i := 0; i < 200; i++ {
		require.NoError(t, s.Reinforce("bounded", -3.0))
	}
	rec, _, err = s.Preference("bounded")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, rec.Score, 0.0)
}

func TestPreferenceMissing(t *testing.T) {
	s := openTestStore(t)
	_, found, err := s.Preference("never-seen")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPreferencesListing(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Reinforce("a", 1.0))
	require.NoError(t, s.Reinforce("b", 0.0))

	prefs, err := s.Preferences()
	require.NoError(t, err)
	assert.Len(t, prefs, 2)
	assert.Contains(t, prefs, "a")
	assert.Contains(t, prefs, "b")
}

func TestDecisionMemory(t *testing.T) {
	s := openTestStore(t)

	_, _, ok := s.DecisionScore("write_file:abc")
	assert.False(t, ok)

	for i := 0; i < 5; i++ {
		s.RecordDecision("write_file:abc", true)
	}
	score, samples, ok := s.DecisionScore("write_file:abc")
	require.True(t, ok)
	assert.Equal(t, 5, samples)
	assert.Greater(t, score, 0.8)

	s.RecordDecision("write_file:abc", false)
	after, _, _ := s.DecisionScore("write_file:abc")
	assert.Less(t, after, score)

	stats, err := s.Approvals()
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Approved)
	assert.Equal(t, 1, stats.Rejected)
}

func TestInteractionLogOrdering(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendInteraction(InteractionEntry{
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
			PlanSummary: string(rune('a' + i)),
		}))
	}

	entries, err := s.RecentInteractions(3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "e", entries[0].PlanSummary)
	assert.Equal(t, "d", entries[1].PlanSummary)
	assert.Equal(t, "c", entries[2].PlanSummary)
}

func TestTelemetryTrends(t *testing.T) {
	s := openTestStore(t)

	s.RecordTelemetry("anthropic", "ok")
	s.RecordTelemetry("anthropic", "ok")
	s.RecordTelemetry("anthropic", "timeout")
	s.RecordTelemetry("openai", "rate_limited")

	trends, err := s.ProviderTrends()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), trends["anthropic"]["ok"])
	assert.Equal(t, uint64(1), trends["anthropic"]["timeout"])
	assert.Equal(t, uint64(1), trends["openai"]["rate_limited"])
}

func TestToolEffectiveness(t *testing.T) {
	s := openTestStore(t)

	s.RecordToolUsage("write_file", true)
	s.RecordToolUsage("write_file", true)
	s.RecordToolUsage("write_file", false)

	stats, err := s.ToolEffectiveness("write_file")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.UsageCount)
	assert.Equal(t, 2, stats.SuccessCount)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate(), 1e-9)

	unused, err := s.ToolEffectiveness("never_used")
	require.NoError(t, err)
	assert.Equal(t, 0, unused.UsageCount)
	assert.Zero(t, unused.SuccessRate())
}

func TestReset(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Reinforce("a", 1.0))
	require.NoError(t, s.AppendInteraction(InteractionEntry{PlanSummary: "p"}))

	require.NoError(t, s.Reset())

	prefs, err := s.Preferences()
	require.NoError(t, err)
	assert.Empty(t, prefs)
	entries, err := s.RecentInteractions(10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(Config{Dir: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Reinforce("durable", 1.0))
	require.NoError(t, s.Close())

	s2, err := Open(Config{Dir: dir}, nil)
	require.NoError(t, err)
	defer s2.Close()

	rec, found, err := s2.Preference("durable")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, rec.SampleCount)
}
