package pool

import "time"

// Health is the tagged state of one (credential, model) pair.
type Health string

const (
	// HealthHealthy allows the pair to be selected.
	HealthHealthy Health = "healthy"

	// HealthRateLimited blocks the pair until CooldownUntil passes,
	// then auto-reverts to healthy.
	HealthRateLimited Health = "rate_limited"

	// HealthExhausted blocks the pair until the next day rollover.
	HealthExhausted Health = "exhausted"

	// HealthDisabled is terminal for the process (e.g. invalid key).
	HealthDisabled Health = "disabled"
)

// QuotaState is a read snapshot of one pair's health and quota estimate.
type QuotaState struct {
	Health            Health    `json:"health"`
	CooldownUntil     time.Time `json:"cooldown_until,omitempty"`
	DisabledReason    string    `json:"disabled_reason,omitempty"`
	QuotaRemainingPct float64   `json:"quota_remaining_pct"`
	LastUsed          time.Time `json:"last_used"`
	Rotations         int64     `json:"rotations"`
}

// Blocked returns true when the pair may not be selected right now.
func (s QuotaState) Blocked() bool {
	return s.Health != HealthHealthy
}
