package cache

import (
	"time"

	"github.com/papersift/llm-engine/pkg/provider"
)

// Entry is a cached batch of decoded verdicts.
type Entry struct {
	// Verdicts maps paper ID to its decoded verdict.
	Verdicts map[string]provider.Verdict `json:"verdicts"`

	// Model is the model that produced the verdicts.
	Model string `json:"model"`

	// CachedAt is when the entry was stored.
	CachedAt time.Time `json:"cached_at"`
}
