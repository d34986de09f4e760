package usage

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for usage accounting.
var (
	usageRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_usage_requests_total",
		Help: "Total recorded LLM requests by model",
	}, []string{"model"})

	usageTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_usage_tokens_total",
		Help: "Total recorded LLM tokens by model",
	}, []string{"model"})

	usageDayRolloversTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llm_usage_day_rollovers_total",
		Help: "Number of daily counter rollovers performed",
	})
)

const dayFormat = "2006-01-02"

type pairKey struct {
	key   string
	model string
}

// Ledger tracks per-(credential, model) daily usage. It is an explicit,
// injectable object: construct one per engine and pass it where needed.
// All methods are safe for concurrent use from parallel batches.
type Ledger struct {
	mu         sync.Mutex
	clock      func() time.Time
	currentDay string
	records    map[pairKey]*Record
	history    []DailySummary
	logger     zerolog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source. Used by tests to cross day
// boundaries deterministically.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		l.clock = clock
	}
}

// NewLedger creates an empty ledger starting at the current calendar day.
func NewLedger(logger zerolog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		clock:   time.Now,
		records: make(map[pairKey]*Record),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.currentDay = l.clock().Format(dayFormat)
	return l
}

// rolloverLocked archives the finished day and clears live counters when
// the calendar day has changed. Runs before every read and write so stale
// data is never observed. Caller must hold l.mu.
func (l *Ledger) rolloverLocked() {
	day := l.clock().Format(dayFormat)
	if day == l.currentDay {
		return
	}

	summary := l.summaryLocked()
	l.history = append(l.history, summary)
	if len(l.history) > HistoryLimit {
		l.history = l.history[len(l.history)-HistoryLimit:]
	}

	l.records = make(map[pairKey]*Record)
	previous := l.currentDay
	l.currentDay = day

	usageDayRolloversTotal.Inc()
	l.logger.Info().
		Str("archived_day", previous).
		Str("current_day", day).
		Int64("archived_requests", summary.TotalRequests).
		Int64("archived_tokens", summary.TotalTokens).
		Msg("Daily usage counters rolled over")
}

// summaryLocked aggregates the live counters. Caller must hold l.mu.
func (l *Ledger) summaryLocked() DailySummary {
	summary := DailySummary{
		Date:    l.currentDay,
		ByModel: make(map[string]Totals),
		ByKey:   make(map[string]Totals),
	}

	for pk, rec := range l.records {
		summary.TotalRequests += rec.Requests
		summary.TotalTokens += rec.Tokens

		byModel := summary.ByModel[pk.model]
		byModel.Requests += rec.Requests
		byModel.Tokens += rec.Tokens
		summary.ByModel[pk.model] = byModel

		display := rec.Label
		if display == "" {
			display = MaskKey(pk.key)
		}
		byKey := summary.ByKey[display]
		byKey.Requests += rec.Requests
		byKey.Tokens += rec.Tokens
		summary.ByKey[display] = byKey
	}

	return summary
}

// RecordUsage increments the pair's request count by one and its token
// count by tokens, updates the last-used timestamp, and applies the label
// if given.
func (l *Ledger) RecordUsage(key, model string, tokens int64, label string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	pk := pairKey{key: key, model: model}
	rec, ok := l.records[pk]
	if !ok {
		rec = &Record{DayStarted: l.clock()}
		l.records[pk] = rec
	}

	rec.Requests++
	rec.Tokens += tokens
	rec.LastUsed = l.clock()
	if label != "" {
		rec.Label = label
	}

	usageRequestsTotal.WithLabelValues(model).Inc()
	usageTokensTotal.WithLabelValues(model).Add(float64(tokens))

	l.logger.Debug().
		Str("key", MaskKey(key)).
		Str("label", rec.Label).
		Str("model", model).
		Int64("tokens", tokens).
		Int64("requests_today", rec.Requests).
		Msg("Usage recorded")
}

// CurrentDay returns the calendar day the live counters belong to,
// after applying the rollover check.
func (l *Ledger) CurrentDay() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()
	return l.currentDay
}

// AllUsageStats returns a snapshot of every live pair record.
func (l *Ledger) AllUsageStats() []PairStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	stats := make([]PairStats, 0, len(l.records))
	for pk, rec := range l.records {
		stats = append(stats, PairStats{
			Key:      pk.key,
			Label:    rec.Label,
			Model:    pk.model,
			Requests: rec.Requests,
			Tokens:   rec.Tokens,
			LastUsed: rec.LastUsed,
		})
	}
	return stats
}

// KeyUsageStats returns the live records for one credential across models.
func (l *Ledger) KeyUsageStats(key string) []PairStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	var stats []PairStats
	for pk, rec := range l.records {
		if pk.key != key {
			continue
		}
		stats = append(stats, PairStats{
			Key:      pk.key,
			Label:    rec.Label,
			Model:    pk.model,
			Requests: rec.Requests,
			Tokens:   rec.Tokens,
			LastUsed: rec.LastUsed,
		})
	}
	return stats
}

// ModelUsageStats returns the live records for one model across credentials.
func (l *Ledger) ModelUsageStats(model string) []PairStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	var stats []PairStats
	for pk, rec := range l.records {
		if pk.model != model {
			continue
		}
		stats = append(stats, PairStats{
			Key:      pk.key,
			Label:    rec.Label,
			Model:    pk.model,
			Requests: rec.Requests,
			Tokens:   rec.Tokens,
			LastUsed: rec.LastUsed,
		})
	}
	return stats
}

// KeyTotalUsage sums today's usage for one credential across all models.
func (l *Ledger) KeyTotalUsage(key string) Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	var totals Totals
	for pk, rec := range l.records {
		if pk.key != key {
			continue
		}
		totals.Requests += rec.Requests
		totals.Tokens += rec.Tokens
	}
	return totals
}

// ModelTotalUsage sums today's usage for one model across all credentials.
func (l *Ledger) ModelTotalUsage(model string) Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	var totals Totals
	for pk, rec := range l.records {
		if pk.model != model {
			continue
		}
		totals.Requests += rec.Requests
		totals.Tokens += rec.Tokens
	}
	return totals
}

// DailySummary returns the live aggregate for the current day.
func (l *Ledger) DailySummary() DailySummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()
	return l.summaryLocked()
}

// HistoricalData returns up to HistoryLimit archived daily summaries,
// oldest first.
func (l *Ledger) HistoricalData() []DailySummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	history := make([]DailySummary, len(l.history))
	copy(history, l.history)
	return history
}

// MaskKey renders a credential for display: the first 8 and last 4
// characters with 8 stars between them. Keys of 12 characters or fewer
// are fully masked.
func MaskKey(key string) string {
	if len(key) <= 12 {
		return strings.Repeat("*", len(key))
	}
	return key[:8] + strings.Repeat("*", 8) + key[len(key)-4:]
}
