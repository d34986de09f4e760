package pool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/papersift/llm-engine/pkg/usage"
)

// Prometheus metrics for pool state tracking.
var (
	poolStateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_pool_state_transitions_total",
		Help: "Total pair state transitions by target state",
	}, []string{"state"})

	poolHealthyPairs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "llm_pool_healthy_pairs",
		Help: "Number of currently healthy (credential, model) pairs",
	})
)

// ErrFatalConfig is returned when the pool is constructed without any
// credentials. Raised before any batch work starts.
var ErrFatalConfig = errors.New("fatal config: no credentials configured")

// PairRef identifies one (credential, model) pair. Used in exclude lists.
type PairRef struct {
	Key   string
	Model string
}

// Pair is a selectable (credential, model) combination.
type Pair struct {
	Credential Credential
	Model      ModelProfile
}

// Ref returns the pair's identity.
func (p Pair) Ref() PairRef {
	return PairRef{Key: p.Credential.Key, Model: p.Model.Name}
}

// PairInfo is a Pair plus its current quota state, as returned to the
// selector.
type PairInfo struct {
	Pair
	State QuotaState
}

// QuotaRow is the per-credential display row surfaced in progress
// snapshots.
type QuotaRow struct {
	Label             string  `json:"label"`
	Status            string  `json:"status"`
	QuotaRemainingPct float64 `json:"quotaRemainingPct"`
	QuotaDetails      string  `json:"quotaDetails"`
	HealthStatus      string  `json:"healthStatus"`
}

// pairState holds the mutable per-pair state. Each pair carries its own
// lock so contention stays scoped to individual pairs.
type pairState struct {
	mu             sync.Mutex
	health         Health
	cooldownUntil  time.Time
	disabledReason string
	exhaustedDay   string
	lastUsed       time.Time
	rotations      int64
}

// effectiveHealth applies the lazy reverts: rate-limit cooldowns expire by
// timestamp, exhaustion expires at the ledger's day rollover. Caller must
// hold s.mu.
func (s *pairState) effectiveHealth(now time.Time, currentDay string) Health {
	switch s.health {
	case HealthRateLimited:
		if now.After(s.cooldownUntil) {
			s.health = HealthHealthy
		}
	case HealthExhausted:
		if s.exhaustedDay != currentDay {
			s.health = HealthHealthy
		}
	}
	return s.health
}

// Pool tracks health and quota per (credential, model) pair. The pool-level
// mutex only guards the credential list and pair map; pair mutations take
// the pair's own lock.
type Pool struct {
	mu     sync.Mutex
	creds  []Credential
	models []ModelProfile
	byName map[string]ModelProfile
	pairs  map[PairRef]*pairState
	ledger *usage.Ledger
	logger zerolog.Logger
	clock  func() time.Time
}

// New validates the credential set and builds a pool. models may be nil,
// in which case DefaultModels is used.
func New(creds []Credential, models []ModelProfile, ledger *usage.Ledger, logger zerolog.Logger) (*Pool, error) {
	if len(creds) == 0 {
		return nil, ErrFatalConfig
	}
	if len(models) == 0 {
		models = DefaultModels()
	}

	sorted := make([]ModelProfile, len(models))
	copy(sorted, models)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Tier < sorted[j].Tier })

	byName := make(map[string]ModelProfile, len(sorted))
	for _, m := range sorted {
		byName[m.Name] = m
	}

	p := &Pool{
		creds:  append([]Credential(nil), creds...),
		models: sorted,
		byName: byName,
		pairs:  make(map[PairRef]*pairState),
		ledger: ledger,
		logger: logger,
		clock:  time.Now,
	}

	logger.Info().
		Int("credentials", len(creds)).
		Int("models", len(sorted)).
		Msg("Credential pool initialized")

	return p, nil
}

// AddCredential registers a new credential at runtime (operator-supplied
// after quota exhaustion). Duplicate keys are ignored.
func (p *Pool) AddCredential(cred Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, existing := range p.creds {
		if existing.Key == cred.Key {
			return
		}
	}
	p.creds = append(p.creds, cred)

	p.logger.Info().
		Str("credential", cred.DisplayName()).
		Msg("Credential added to pool")
}

// Models returns the model profiles sorted by ascending tier.
func (p *Pool) Models() []ModelProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ModelProfile, len(p.models))
	copy(out, p.models)
	return out
}

// ModelByName looks up a profile.
func (p *Pool) ModelByName(name string) (ModelProfile, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.byName[name]
	return m, ok
}

// state returns the pair's state record, creating it lazily on first use.
func (p *Pool) state(ref PairRef) *pairState {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.pairs[ref]
	if !ok {
		s = &pairState{health: HealthHealthy}
		p.pairs[ref] = s
	}
	return s
}

// HealthyPairs returns the candidate pairs whose state is healthy,
// optionally filtered to one tier (tier < 0 means all tiers).
func (p *Pool) HealthyPairs(tier int) []PairInfo {
	p.mu.Lock()
	creds := append([]Credential(nil), p.creds...)
	models := append([]ModelProfile(nil), p.models...)
	p.mu.Unlock()

	now := p.clock()
	currentDay := p.ledger.CurrentDay()

	var out []PairInfo
	for _, m := range models {
		if tier >= 0 && m.Tier != tier {
			continue
		}
		for _, c := range creds {
			pair := Pair{Credential: c, Model: m}
			s := p.state(pair.Ref())

			s.mu.Lock()
			health := s.effectiveHealth(now, currentDay)
			info := PairInfo{
				Pair: pair,
				State: QuotaState{
					Health:            health,
					CooldownUntil:     s.cooldownUntil,
					DisabledReason:    s.disabledReason,
					QuotaRemainingPct: p.quotaRemainingPct(c.Key, m),
					LastUsed:          s.lastUsed,
					Rotations:         s.rotations,
				},
			}
			s.mu.Unlock()

			if health == HealthHealthy {
				out = append(out, info)
			}
		}
	}

	poolHealthyPairs.Set(float64(len(out)))
	return out
}

// quotaRemainingPct estimates remaining daily quota from the ledger's
// request count against the model's daily request ceiling.
func (p *Pool) quotaRemainingPct(key string, m ModelProfile) float64 {
	if m.DailyRequestLimit <= 0 {
		return 100
	}
	var used int64
	for _, st := range p.ledger.KeyUsageStats(key) {
		if st.Model == m.Name {
			used = st.Requests
			break
		}
	}
	pct := 100 * (1 - float64(used)/float64(m.DailyRequestLimit))
	if pct < 0 {
		return 0
	}
	return pct
}

// State returns a read snapshot of one pair's quota state.
func (p *Pool) State(ref PairRef) QuotaState {
	s := p.state(ref)
	now := p.clock()
	currentDay := p.ledger.CurrentDay()

	m := p.byName[ref.Model]

	s.mu.Lock()
	defer s.mu.Unlock()
	return QuotaState{
		Health:            s.effectiveHealth(now, currentDay),
		CooldownUntil:     s.cooldownUntil,
		DisabledReason:    s.disabledReason,
		QuotaRemainingPct: p.quotaRemainingPct(ref.Key, m),
		LastUsed:          s.lastUsed,
		Rotations:         s.rotations,
	}
}

// MarkUsed stamps the pair's last-used time after a successful call.
func (p *Pool) MarkUsed(ref PairRef) {
	s := p.state(ref)
	s.mu.Lock()
	s.lastUsed = p.clock()
	s.mu.Unlock()
}

// MarkRateLimited puts the pair on a cooldown after a throttling signal.
// The pair auto-reverts to healthy once the cooldown passes.
func (p *Pool) MarkRateLimited(ref PairRef, cooldown time.Duration) {
	s := p.state(ref)
	s.mu.Lock()
	if s.health == HealthDisabled {
		s.mu.Unlock()
		return
	}
	s.health = HealthRateLimited
	s.cooldownUntil = p.clock().Add(cooldown)
	s.rotations++
	s.mu.Unlock()

	poolStateTransitionsTotal.WithLabelValues(string(HealthRateLimited)).Inc()
	p.logger.Warn().
		Str("credential", usage.MaskKey(ref.Key)).
		Str("model", ref.Model).
		Dur("cooldown", cooldown).
		Msg("Pair rate limited")
}

// MarkExhausted blocks the pair until the ledger's next day rollover.
func (p *Pool) MarkExhausted(ref PairRef) {
	day := p.ledger.CurrentDay()

	s := p.state(ref)
	s.mu.Lock()
	if s.health == HealthDisabled {
		s.mu.Unlock()
		return
	}
	s.health = HealthExhausted
	s.exhaustedDay = day
	s.rotations++
	s.mu.Unlock()

	poolStateTransitionsTotal.WithLabelValues(string(HealthExhausted)).Inc()
	p.logger.Warn().
		Str("credential", usage.MaskKey(ref.Key)).
		Str("model", ref.Model).
		Str("until_day_after", day).
		Msg("Pair quota exhausted")
}

// MarkDisabled removes the pair permanently for the process lifetime
// (invalid credential, malformed request rejection).
func (p *Pool) MarkDisabled(ref PairRef, reason string) {
	s := p.state(ref)
	s.mu.Lock()
	s.health = HealthDisabled
	s.disabledReason = reason
	s.rotations++
	s.mu.Unlock()

	poolStateTransitionsTotal.WithLabelValues(string(HealthDisabled)).Inc()
	p.logger.Error().
		Str("credential", usage.MaskKey(ref.Key)).
		Str("model", ref.Model).
		Str("reason", reason).
		Msg("Pair disabled")
}

// Quotas aggregates per-credential display rows for progress snapshots:
// worst health across the credential's models and the lowest remaining
// quota estimate.
func (p *Pool) Quotas() []QuotaRow {
	p.mu.Lock()
	creds := append([]Credential(nil), p.creds...)
	models := append([]ModelProfile(nil), p.models...)
	p.mu.Unlock()

	rows := make([]QuotaRow, 0, len(creds))
	for _, c := range creds {
		row := QuotaRow{
			Label:             c.DisplayName(),
			QuotaRemainingPct: 100,
		}
		worst := HealthHealthy
		var requests, tokens int64

		for _, m := range models {
			st := p.State(PairRef{Key: c.Key, Model: m.Name})
			if healthRank(st.Health) > healthRank(worst) {
				worst = st.Health
			}
			if st.QuotaRemainingPct < row.QuotaRemainingPct {
				row.QuotaRemainingPct = st.QuotaRemainingPct
			}
		}
		for _, st := range p.ledger.KeyUsageStats(c.Key) {
			requests += st.Requests
			tokens += st.Tokens
		}

		row.HealthStatus = string(worst)
		if worst == HealthHealthy {
			row.Status = "active"
		} else {
			row.Status = string(worst)
		}
		row.QuotaDetails = fmt.Sprintf("%d requests / %d tokens today", requests, tokens)
		rows = append(rows, row)
	}
	return rows
}

// HealthyKeyCount counts credentials with at least one healthy pair.
func (p *Pool) HealthyKeyCount() int {
	p.mu.Lock()
	creds := append([]Credential(nil), p.creds...)
	models := append([]ModelProfile(nil), p.models...)
	p.mu.Unlock()

	count := 0
	for _, c := range creds {
		for _, m := range models {
			if p.State(PairRef{Key: c.Key, Model: m.Name}).Health == HealthHealthy {
				count++
				break
			}
		}
	}
	return count
}

// healthRank orders health states by severity for aggregation.
func healthRank(h Health) int {
	switch h {
	case HealthHealthy:
		return 0
	case HealthRateLimited:
		return 1
	case HealthExhausted:
		return 2
	case HealthDisabled:
		return 3
	default:
		return 0
	}
}

// SetClock overrides the time source (for testing).
func (p *Pool) SetClock(clock func() time.Time) {
	p.clock = clock
}
