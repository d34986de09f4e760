package selector

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/papersift/llm-engine/pkg/pool"
	"github.com/papersift/llm-engine/pkg/usage"
)

func newTestSelector(t *testing.T) (*Selector, *pool.Pool) {
	t.Helper()
	ledger := usage.NewLedger(zerolog.Nop())
	p, err := pool.New([]pool.Credential{
		{Key: "key-alpha-0123456789", Label: "alpha"},
		{Key: "key-bravo-0123456789", Label: "bravo"},
	}, nil, ledger, zerolog.Nop())
	if err != nil {
		t.Fatalf("pool.New() error = %v", err)
	}
	return New(p, nil, Config{}, zerolog.Nop()), p
}

func TestSelect_AutoPrefersCheapestTier(t *testing.T) {
	s, _ := newTestSelector(t)

	pair, err := s.Select(ModeAuto, "", nil)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if pair.Model.Name != "gemini-2.5-flash-lite" {
		t.Errorf("auto picked %q, want cheapest tier gemini-2.5-flash-lite", pair.Model.Name)
	}
}

func TestSelect_AutoEscalatesWhenTierDry(t *testing.T) {
	s, p := newTestSelector(t)

	// Exhaust every lite pair: the selector must escalate to flash.
	for _, c := range []string{"key-alpha-0123456789", "key-bravo-0123456789"} {
		p.MarkExhausted(pool.PairRef{Key: c, Model: "gemini-2.5-flash-lite"})
	}

	pair, err := s.Select(ModeAuto, "", nil)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if pair.Model.Name != "gemini-2.5-flash" {
		t.Errorf("auto picked %q, want escalation to gemini-2.5-flash", pair.Model.Name)
	}

	// Dry the middle tier too: pro is the last resort.
	for _, c := range []string{"key-alpha-0123456789", "key-bravo-0123456789"} {
		p.MarkExhausted(pool.PairRef{Key: c, Model: "gemini-2.5-flash"})
	}

	pair, err = s.Select(ModeAuto, "", nil)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if pair.Model.Name != "gemini-2.5-pro" {
		t.Errorf("auto picked %q, want gemini-2.5-pro", pair.Model.Name)
	}
}

func TestSelect_ManualRestrictsModel(t *testing.T) {
	s, _ := newTestSelector(t)

	pair, err := s.Select(ModeManual, "gemini-2.5-pro", nil)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if pair.Model.Name != "gemini-2.5-pro" {
		t.Errorf("manual picked %q, want gemini-2.5-pro", pair.Model.Name)
	}
}

func TestSelect_ManualNeverEscalates(t *testing.T) {
	s, p := newTestSelector(t)

	for _, c := range []string{"key-alpha-0123456789", "key-bravo-0123456789"} {
		p.MarkExhausted(pool.PairRef{Key: c, Model: "gemini-2.5-pro"})
	}

	_, err := s.Select(ModeManual, "gemini-2.5-pro", nil)
	if !errors.Is(err, ErrAllKeysExhausted) {
		t.Errorf("Select() error = %v, want ErrAllKeysExhausted (manual mode must not escalate)", err)
	}
}

func TestSelect_LRUTieBreak(t *testing.T) {
	s, p := newTestSelector(t)

	// alpha was used just now; bravo is stale and must be picked first.
	p.MarkUsed(pool.PairRef{Key: "key-alpha-0123456789", Model: "gemini-2.5-flash-lite"})

	pair, err := s.Select(ModeAuto, "", nil)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if pair.Credential.Label != "bravo" {
		t.Errorf("picked %q, want stalest credential bravo", pair.Credential.Label)
	}
}

func TestSelect_ExcludeAvoidsFailedPair(t *testing.T) {
	s, _ := newTestSelector(t)

	first, err := s.Select(ModeAuto, "", nil)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	second, err := s.Select(ModeAuto, "", []pool.PairRef{first.Ref()})
	if err != nil {
		t.Fatalf("Select() with exclude error = %v", err)
	}
	if second.Ref() == first.Ref() {
		t.Errorf("Select() re-picked excluded pair %+v", first.Ref())
	}
}

func TestSelect_AllKeysExhausted(t *testing.T) {
	s, p := newTestSelector(t)

	for _, m := range p.Models() {
		for _, c := range []string{"key-alpha-0123456789", "key-bravo-0123456789"} {
			p.MarkDisabled(pool.PairRef{Key: c, Model: m.Name}, "revoked")
		}
	}

	_, err := s.Select(ModeAuto, "", nil)
	if !errors.Is(err, ErrAllKeysExhausted) {
		t.Errorf("Select() error = %v, want ErrAllKeysExhausted", err)
	}
}

func TestCheapestTierFirst_Pick(t *testing.T) {
	strategy := CheapestTierFirst{}

	old := time.Now().Add(-time.Hour)
	recent := time.Now()

	candidates := []pool.PairInfo{
		{
			Pair: pool.Pair{
				Credential: pool.Credential{Label: "pro-stale"},
				Model:      pool.ModelProfile{Name: "pro", Tier: 2},
			},
			State: pool.QuotaState{LastUsed: old},
		},
		{
			Pair: pool.Pair{
				Credential: pool.Credential{Label: "lite-recent"},
				Model:      pool.ModelProfile{Name: "lite", Tier: 0},
			},
			State: pool.QuotaState{LastUsed: recent},
		},
		{
			Pair: pool.Pair{
				Credential: pool.Credential{Label: "lite-stale"},
				Model:      pool.ModelProfile{Name: "lite", Tier: 0},
			},
			State: pool.QuotaState{LastUsed: old},
		},
	}

	picked, ok := strategy.Pick(candidates)
	if !ok {
		t.Fatal("Pick() returned no candidate")
	}
	if picked.Credential.Label != "lite-stale" {
		t.Errorf("Pick() = %q, want lite-stale (cheapest tier, then stalest)", picked.Credential.Label)
	}

	if _, ok := strategy.Pick(nil); ok {
		t.Error("Pick(nil) should report no candidate")
	}
}
