package pool

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/papersift/llm-engine/pkg/usage"
)

func testCreds() []Credential {
	return []Credential{
		{Key: "key-alpha-0123456789", Label: "alpha"},
		{Key: "key-bravo-0123456789", Label: "bravo"},
	}
}

func newTestPool(t *testing.T) (*Pool, *usage.Ledger) {
	t.Helper()
	ledger := usage.NewLedger(zerolog.Nop())
	p, err := New(testCreds(), nil, ledger, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p, ledger
}

func TestNew_NoCredentials(t *testing.T) {
	ledger := usage.NewLedger(zerolog.Nop())
	_, err := New(nil, nil, ledger, zerolog.Nop())
	if !errors.Is(err, ErrFatalConfig) {
		t.Errorf("New() error = %v, want ErrFatalConfig", err)
	}
}

func TestCredential_Masked(t *testing.T) {
	c := Credential{Key: "AIzaSyABCDEFGH1234xy"}
	if got := c.Masked(); got != "AIzaSyAB********34xy" {
		t.Errorf("Masked() = %q, want %q", got, "AIzaSyAB********34xy")
	}

	short := Credential{Key: "tiny-key-1"}
	if got := short.Masked(); got != "**********" {
		t.Errorf("Masked() = %q, want fully masked", got)
	}
}

func TestHealthyPairs_TierFilter(t *testing.T) {
	p, _ := newTestPool(t)

	all := p.HealthyPairs(-1)
	if len(all) != 6 { // 2 credentials x 3 default models
		t.Fatalf("HealthyPairs(-1) returned %d pairs, want 6", len(all))
	}

	lite := p.HealthyPairs(0)
	if len(lite) != 2 {
		t.Fatalf("HealthyPairs(0) returned %d pairs, want 2", len(lite))
	}
	for _, info := range lite {
		if info.Model.Name != "gemini-2.5-flash-lite" {
			t.Errorf("tier 0 pair has model %q", info.Model.Name)
		}
	}
}

func TestMarkRateLimited_AutoRevert(t *testing.T) {
	p, _ := newTestPool(t)

	now := time.Now()
	var mu sync.Mutex
	p.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})

	ref := PairRef{Key: "key-alpha-0123456789", Model: "gemini-2.5-flash-lite"}
	p.MarkRateLimited(ref, 30*time.Second)

	if st := p.State(ref); st.Health != HealthRateLimited {
		t.Fatalf("Health = %v, want rate_limited", st.Health)
	}
	if len(p.HealthyPairs(0)) != 1 {
		t.Error("rate-limited pair should be excluded from healthy pairs")
	}

	// After the cooldown the pair reverts to healthy on its own.
	mu.Lock()
	now = now.Add(31 * time.Second)
	mu.Unlock()

	if st := p.State(ref); st.Health != HealthHealthy {
		t.Errorf("Health after cooldown = %v, want healthy", st.Health)
	}
	if len(p.HealthyPairs(0)) != 2 {
		t.Error("pair should be healthy again after cooldown")
	}
}

func TestMarkExhausted_RevertsAtDayRollover(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	ledger := usage.NewLedger(zerolog.Nop(), usage.WithClock(clock))
	p, err := New(testCreds(), nil, ledger, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	p.SetClock(clock)

	ref := PairRef{Key: "key-alpha-0123456789", Model: "gemini-2.5-pro"}
	p.MarkExhausted(ref)

	if st := p.State(ref); st.Health != HealthExhausted {
		t.Fatalf("Health = %v, want exhausted", st.Health)
	}

	// Still exhausted later the same day.
	mu.Lock()
	now = now.Add(6 * time.Hour)
	mu.Unlock()
	if st := p.State(ref); st.Health != HealthExhausted {
		t.Errorf("Health same day = %v, want exhausted", st.Health)
	}

	// Reverts only at the day boundary.
	mu.Lock()
	now = now.Add(10 * time.Hour)
	mu.Unlock()
	if st := p.State(ref); st.Health != HealthHealthy {
		t.Errorf("Health next day = %v, want healthy", st.Health)
	}
}

func TestMarkDisabled_Terminal(t *testing.T) {
	p, _ := newTestPool(t)
	ref := PairRef{Key: "key-bravo-0123456789", Model: "gemini-2.5-flash"}

	p.MarkDisabled(ref, "invalid credential")

	st := p.State(ref)
	if st.Health != HealthDisabled {
		t.Fatalf("Health = %v, want disabled", st.Health)
	}
	if st.DisabledReason != "invalid credential" {
		t.Errorf("DisabledReason = %q", st.DisabledReason)
	}

	// Disabled is terminal: later marks must not resurrect the pair.
	p.MarkRateLimited(ref, time.Second)
	if st := p.State(ref); st.Health != HealthDisabled {
		t.Errorf("Health after re-mark = %v, want disabled", st.Health)
	}
}

func TestQuotaRemainingPct(t *testing.T) {
	p, ledger := newTestPool(t)
	ref := PairRef{Key: "key-alpha-0123456789", Model: "gemini-2.5-pro"}

	// gemini-2.5-pro default daily limit is 100 requests.
	for i := 0; i < 25; i++ {
		ledger.RecordUsage(ref.Key, ref.Model, 10, "alpha")
	}

	st := p.State(ref)
	if st.QuotaRemainingPct != 75 {
		t.Errorf("QuotaRemainingPct = %v, want 75", st.QuotaRemainingPct)
	}
}

func TestQuotas_Rows(t *testing.T) {
	p, ledger := newTestPool(t)
	ledger.RecordUsage("key-alpha-0123456789", "gemini-2.5-flash", 500, "alpha")
	p.MarkDisabled(PairRef{Key: "key-bravo-0123456789", Model: "gemini-2.5-flash"}, "bad key")

	rows := p.Quotas()
	if len(rows) != 2 {
		t.Fatalf("Quotas() returned %d rows, want 2", len(rows))
	}

	byLabel := make(map[string]QuotaRow)
	for _, r := range rows {
		byLabel[r.Label] = r
	}

	if byLabel["alpha"].HealthStatus != string(HealthHealthy) {
		t.Errorf("alpha health = %q, want healthy", byLabel["alpha"].HealthStatus)
	}
	if byLabel["bravo"].HealthStatus != string(HealthDisabled) {
		t.Errorf("bravo health = %q, want disabled (worst across models)", byLabel["bravo"].HealthStatus)
	}
}

func TestHealthyKeyCount(t *testing.T) {
	p, _ := newTestPool(t)
	if got := p.HealthyKeyCount(); got != 2 {
		t.Fatalf("HealthyKeyCount() = %d, want 2", got)
	}

	for _, m := range p.Models() {
		p.MarkDisabled(PairRef{Key: "key-alpha-0123456789", Model: m.Name}, "revoked")
	}
	if got := p.HealthyKeyCount(); got != 1 {
		t.Errorf("HealthyKeyCount() after disabling alpha = %d, want 1", got)
	}
}

func TestAddCredential(t *testing.T) {
	p, _ := newTestPool(t)

	p.AddCredential(Credential{Key: "key-charlie-96385274", Label: "charlie"})
	if got := p.HealthyKeyCount(); got != 3 {
		t.Errorf("HealthyKeyCount() = %d, want 3", got)
	}

	// Duplicate keys are ignored.
	p.AddCredential(Credential{Key: "key-charlie-96385274", Label: "charlie-again"})
	if got := p.HealthyKeyCount(); got != 3 {
		t.Errorf("HealthyKeyCount() after duplicate add = %d, want 3", got)
	}
}
