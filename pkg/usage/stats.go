// Package usage implements per-(credential, model) daily usage accounting
// with day rollover and a bounded archive of past daily summaries.
package usage

import "time"

// HistoryLimit bounds the archived daily summaries. Oldest entries are
// evicted first once the limit is reached.
const HistoryLimit = 7

// Record holds the live counters for one (credential, model) pair.
// Counters are monotonic within a day and reset exactly once at the
// day boundary.
type Record struct {
	Requests   int64     `json:"requests"`
	Tokens     int64     `json:"tokens"`
	LastUsed   time.Time `json:"last_used"`
	DayStarted time.Time `json:"day_started"`
	Label      string    `json:"label,omitempty"`
}

// PairStats is a read snapshot of one pair's counters.
type PairStats struct {
	Key      string    `json:"key"`
	Label    string    `json:"label,omitempty"`
	Model    string    `json:"model"`
	Requests int64     `json:"requests"`
	Tokens   int64     `json:"tokens"`
	LastUsed time.Time `json:"last_used"`
}

// Totals aggregates request and token counts.
type Totals struct {
	Requests int64 `json:"requests"`
	Tokens   int64 `json:"tokens"`
}

// DailySummary is the aggregate for one calendar day, broken down by
// model and by credential.
type DailySummary struct {
	Date          string            `json:"date"`
	TotalRequests int64             `json:"total_requests"`
	TotalTokens   int64             `json:"total_tokens"`
	ByModel       map[string]Totals `json:"by_model"`
	ByKey         map[string]Totals `json:"by_key"`
}
