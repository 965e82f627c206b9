// Package memstore persists what the agent learns across sessions: preference
// scores, the interaction log, provider telemetry trends, and per-tool
// effectiveness. Storage is a single BadgerDB keyspace with typed prefixes.
package memstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

const (
	prefPrefix      = "pref:"
	logPrefix       = "log:"
	telemetryPrefix = "telemetry:"
	toolPrefix      = "tool:"
	approvalKey     = "stats:approvals"
)

// smoothingAlpha is the exponential smoothing factor for preference updates.
const smoothingAlpha = 0.3

// Config controls where and how the store opens.
type Config struct {
	// Dir is the on-disk location. Ignored when InMemory is set.
	Dir string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool
}

// PreferenceRecord is one learned confidence score.
type PreferenceRecord struct {
	Score       float64   `json:"score"`
	LastUpdated time.Time `json:"last_updated"`
	SampleCount int       `json:"sample_count"`
}

// InteractionEntry is one append-only log record, one per user turn.
type InteractionEntry struct {
	Timestamp       time.Time `json:"timestamp"`
	PlanSummary     string    `json:"plan_summary"`
	OutcomesSummary string    `json:"outcomes_summary"`
}

// ToolStats tracks per-tool effectiveness.
type ToolStats struct {
	UsageCount   int `json:"usage_count"`
	SuccessCount int `json:"success_count"`
}

// SuccessRate returns the fraction of successful uses, 0 when unused.
func (s ToolStats) SuccessRate() float64 {
	if s.UsageCount == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.UsageCount)
}

// ApprovalStats summarizes decision history.
type ApprovalStats struct {
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

// Store is the durable memory backing the learn phase.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	now    func() time.Time
}

// badgerLogger adapts badger's logger interface onto slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(strings.TrimSpace(format), args...))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(strings.TrimSpace(format), args...))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(strings.TrimSpace(format), args...))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(strings.TrimSpace(format), args...))
}

// Open opens or creates the store. logger may be nil.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithLogger(badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// clamp bounds a score to [0,1].
func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Reinforce folds one observation into a preference score by exponential
// smoothing. signal is the observed value in [0,1]; 1 reinforces the pattern,
// 0 decays it. The stored score stays within [0,1] regardless of input.
func (s *Store) Reinforce(key string, signal float64) error {
	signal = clamp(signal)
	return s.db.Update(func(txn *badger.Txn) error {
		rec := PreferenceRecord{Score: 0.5}
		item, err := txn.Get([]byte(prefPrefix + key))
		if err == nil {
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		rec.Score = clamp(rec.Score + smoothingAlpha*(signal-rec.Score))
		rec.SampleCount++
		rec.LastUpdated = s.now()

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set([]byte(prefPrefix+key), data)
	})
}

// Preference returns the record for key, reporting whether it exists.
func (s *Store) Preference(key string) (PreferenceRecord, bool, error) {
	var rec PreferenceRecord
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefPrefix + key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	return rec, found, err
}

// Preferences returns every preference score, keyed without the storage
// prefix. Fed into the reasoning prompt.
func (s *Store) Preferences() (map[string]float64, error) {
	out := make(map[string]float64)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := strings.TrimPrefix(string(item.Key()), prefPrefix)
			if err := item.Value(func(val []byte) error {
				var rec PreferenceRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				out[key] = rec.Score
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// DecisionScore implements the gate's decision memory: learned confidence and
// sample count for an operation pattern.
func (s *Store) DecisionScore(key string) (float64, int, bool) {
	rec, found, err := s.Preference("decision:" + key)
	if err != nil || !found {
		return 0, 0, false
	}
	return rec.Score, rec.SampleCount, true
}

// RecordDecision folds one approve or reject into the pattern's score and the
// session-wide approval statistics.
func (s *Store) RecordDecision(key string, approved bool) {
	signal := 0.0
	if approved {
		signal = 1.0
	}
	if err := s.Reinforce("decision:"+key, signal); err != nil {
		s.logger.Warn("record decision", "key", key, "error", err)
		return
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		var stats ApprovalStats
		item, err := txn.Get([]byte(approvalKey))
		if err == nil {
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &stats)
			}); err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		if approved {
			stats.Approved++
		} else {
			stats.Rejected++
		}
		data, err := json.Marshal(stats)
		if err != nil {
			return err
		}
		return txn.Set([]byte(approvalKey), data)
	})
	if err != nil {
		s.logger.Warn("record approval stats", "error", err)
	}
}

// Approvals returns the accumulated approval statistics.
func (s *Store) Approvals() (ApprovalStats, error) {
	var stats ApprovalStats
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(approvalKey))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stats)
		})
	})
	return stats, err
}

// AppendInteraction writes one turn's log entry. Keys embed a nanosecond
// timestamp so iteration order is chronological.
func (s *Store) AppendInteraction(entry InteractionEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	key := make([]byte, len(logPrefix)+8)
	copy(key, logPrefix)
	binary.BigEndian.PutUint64(key[len(logPrefix):], uint64(entry.Timestamp.UnixNano()))

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// RecentInteractions returns up to n log entries, newest first.
func (s *Store) RecentInteractions(n int) ([]InteractionEntry, error) {
	var entries []InteractionEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(logPrefix)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts past the prefix range.
		seek := append([]byte(logPrefix), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		for it.Seek(seek); it.Valid() && len(entries) < n; it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				var entry InteractionEntry
				if err := json.Unmarshal(val, &entry); err != nil {
					return err
				}
				entries = append(entries, entry)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return entries, err
}

// RecordTelemetry accumulates one gateway attempt into the per-provider,
// per-outcome trend counters.
func (s *Store) RecordTelemetry(provider, outcome string) {
	key := []byte(telemetryPrefix + provider + ":" + outcome)
	err := s.db.Update(func(txn *badger.Txn) error {
		var count uint64
		item, err := txn.Get(key)
		if err == nil {
			if err := item.Value(func(val []byte) error {
				count = binary.BigEndian.Uint64(val)
				return nil
			}); err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, count+1)
		return txn.Set(key, buf)
	})
	if err != nil {
		s.logger.Warn("record telemetry", "provider", provider, "error", err)
	}
}

// ProviderTrends returns the telemetry counters as provider -> outcome ->
// count.
func (s *Store) ProviderTrends() (map[string]map[string]uint64, error) {
	out := make(map[string]map[string]uint64)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(telemetryPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			rest := strings.TrimPrefix(string(item.Key()), telemetryPrefix)
			provider, outcome, ok := strings.Cut(rest, ":")
			if !ok {
				continue
			}
			if err := item.Value(func(val []byte) error {
				if out[provider] == nil {
					out[provider] = make(map[string]uint64)
				}
				out[provider][outcome] = binary.BigEndian.Uint64(val)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// RecordToolUsage updates a tool's effectiveness counters.
func (s *Store) RecordToolUsage(tool string, success bool) {
	err := s.db.Update(func(txn *badger.Txn) error {
		var stats ToolStats
		key := []byte(toolPrefix + tool)
		item, err := txn.Get(key)
		if err == nil {
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &stats)
			}); err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		stats.UsageCount++
		if success {
			stats.SuccessCount++
		}
		data, err := json.Marshal(stats)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		s.logger.Warn("record tool usage", "tool", tool, "error", err)
	}
}

// ToolEffectiveness returns the stats for one tool.
func (s *Store) ToolEffectiveness(tool string) (ToolStats, error) {
	var stats ToolStats
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(toolPrefix + tool))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stats)
		})
	})
	return stats, err
}

// Reset drops everything. Preferences are never deleted any other way.
func (s *Store) Reset() error {
	return s.db.DropAll()
}
