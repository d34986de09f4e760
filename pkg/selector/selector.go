// Package selector picks the next (credential, model) pair for a unit of
// work from the pool's healthy candidates.
package selector

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/papersift/llm-engine/pkg/pool"
)

// ErrAllKeysExhausted is returned when no healthy pair remains after
// applying the mode, model, and exclusion filters.
var ErrAllKeysExhausted = errors.New("all credentials exhausted")

// Mode controls how candidates are restricted.
type Mode string

const (
	// ModeManual restricts candidates to the requested model and rotates
	// credentials only.
	ModeManual Mode = "manual"

	// ModeAuto prefers the cheapest healthy tier and escalates along the
	// fallback chain when a tier runs dry.
	ModeAuto Mode = "auto"
)

// Config tunes selection behavior.
type Config struct {
	// MinQuotaPct excludes pairs whose estimated remaining quota falls
	// below this percentage. Zero means any healthy pair qualifies.
	MinQuotaPct float64
}

// Selector picks pairs from the pool using a pluggable strategy.
type Selector struct {
	pool     *pool.Pool
	strategy Strategy
	cfg      Config
	logger   zerolog.Logger
}

// New builds a selector. strategy may be nil, in which case the default
// cheapest-tier-first strategy with LRU tie-break is used.
func New(p *pool.Pool, strategy Strategy, cfg Config, logger zerolog.Logger) *Selector {
	if strategy == nil {
		strategy = CheapestTierFirst{}
	}
	return &Selector{pool: p, strategy: strategy, cfg: cfg, logger: logger}
}

// Select returns the next pair for a call, or ErrAllKeysExhausted.
// exclude lets the retry controller avoid re-selecting a pair that just
// failed within the same attempt.
func (s *Selector) Select(mode Mode, requestedModel string, exclude []pool.PairRef) (pool.Pair, error) {
	candidates := s.pool.HealthyPairs(-1)
	candidates = filterExcluded(candidates, exclude)
	candidates = filterQuota(candidates, s.cfg.MinQuotaPct)

	if mode == ModeManual {
		candidates = filterModel(candidates, requestedModel)
	}

	if len(candidates) == 0 {
		return pool.Pair{}, ErrAllKeysExhausted
	}

	picked, ok := s.strategy.Pick(candidates)
	if !ok {
		return pool.Pair{}, ErrAllKeysExhausted
	}

	s.logger.Debug().
		Str("credential", picked.Credential.DisplayName()).
		Str("model", picked.Model.Name).
		Str("mode", string(mode)).
		Int("candidates", len(candidates)).
		Msg("Pair selected")

	return picked.Pair, nil
}

func filterExcluded(candidates []pool.PairInfo, exclude []pool.PairRef) []pool.PairInfo {
	if len(exclude) == 0 {
		return candidates
	}
	excluded := make(map[pool.PairRef]bool, len(exclude))
	for _, ref := range exclude {
		excluded[ref] = true
	}
	var out []pool.PairInfo
	for _, c := range candidates {
		if !excluded[c.Ref()] {
			out = append(out, c)
		}
	}
	return out
}

func filterModel(candidates []pool.PairInfo, model string) []pool.PairInfo {
	var out []pool.PairInfo
	for _, c := range candidates {
		if c.Model.Name == model {
			out = append(out, c)
		}
	}
	return out
}

func filterQuota(candidates []pool.PairInfo, minPct float64) []pool.PairInfo {
	if minPct <= 0 {
		return candidates
	}
	var out []pool.PairInfo
	for _, c := range candidates {
		if c.State.QuotaRemainingPct >= minPct {
			out = append(out, c)
		}
	}
	return out
}
