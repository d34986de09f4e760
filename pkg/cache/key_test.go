package cache

import (
	"strings"
	"testing"
)

func TestKey_Deterministic(t *testing.T) {
	k1 := Key{
		Phase:    "inclusion",
		Model:    "gemini-2.5-flash",
		Prompt:   "Include papers about transformer architectures.",
		PaperIDs: []string{"p1", "p2", "p3"},
	}
	k2 := Key{
		Phase:    "inclusion",
		Model:    "gemini-2.5-flash",
		Prompt:   "Include papers about transformer architectures.",
		PaperIDs: []string{"p1", "p2", "p3"},
	}

	if k1.String() != k2.String() {
		t.Errorf("identical keys produced different strings:\n%s\n%s", k1.String(), k2.String())
	}
}

func TestKey_PaperOrderIrrelevant(t *testing.T) {
	base := Key{Phase: "inclusion", Model: "m", Prompt: "p", PaperIDs: []string{"a", "b", "c"}}
	shuffled := Key{Phase: "inclusion", Model: "m", Prompt: "p", PaperIDs: []string{"c", "a", "b"}}

	if base.String() != shuffled.String() {
		t.Error("paper ID order changed the cache key")
	}
}

func TestKey_ComponentsDistinguish(t *testing.T) {
	base := Key{Phase: "inclusion", Model: "m", Prompt: "p", PaperIDs: []string{"a"}}

	variants := []Key{
		{Phase: "exclusion", Model: "m", Prompt: "p", PaperIDs: []string{"a"}},
		{Phase: "inclusion", Model: "other", Prompt: "p", PaperIDs: []string{"a"}},
		{Phase: "inclusion", Model: "m", Prompt: "different", PaperIDs: []string{"a"}},
		{Phase: "inclusion", Model: "m", Prompt: "p", PaperIDs: []string{"a", "b"}},
	}

	for i, v := range variants {
		if v.String() == base.String() {
			t.Errorf("variant %d collided with base key %s", i, base.String())
		}
	}
}

func TestKey_Format(t *testing.T) {
	k := Key{Phase: "inclusion", Model: "gemini-2.5-pro", Prompt: "p", PaperIDs: []string{"a"}}
	s := k.String()

	if !strings.HasPrefix(s, "verdicts:inclusion:gemini-2.5-pro:") {
		t.Errorf("unexpected key format: %s", s)
	}
	if parts := strings.Split(s, ":"); len(parts) != 5 {
		t.Errorf("key has %d segments, want 5: %s", len(parts), s)
	}
}

func TestShortHash_Stable(t *testing.T) {
	if shortHash("x") != shortHash("x") {
		t.Error("shortHash is not stable")
	}
	if len(shortHash("anything")) != 16 {
		t.Errorf("shortHash length = %d, want 16", len(shortHash("anything")))
	}
}
