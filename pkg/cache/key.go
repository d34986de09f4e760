package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Key identifies a cached batch of filter verdicts.
type Key struct {
	// Phase is the filter pass the verdicts belong to ("inclusion" or
	// "exclusion").
	Phase string

	// Model is the model name the prompt was sent to. Different models
	// may judge the same batch differently, so it is part of the key.
	Model string

	// Prompt is the full filter prompt, hashed into the key.
	Prompt string

	// PaperIDs are the IDs of the papers in the batch. Order does not
	// matter; the set is hashed after sorting.
	PaperIDs []string
}

// String generates a deterministic cache key string.
// Format: verdicts:phase:model:promptHash:papersHash
//
// Example:
//
//	verdicts:inclusion:gemini-2.5-flash:9f86d081884c7d65:2c26b46b68ffc68f
func (k Key) String() string {
	return strings.Join([]string{
		"verdicts",
		k.Phase,
		k.Model,
		shortHash(k.Prompt),
		shortHash(strings.Join(sortedCopy(k.PaperIDs), "\x1f")),
	}, ":")
}

// shortHash returns the first 16 hex chars of the SHA-256 of s. Collisions
// across two 64-bit prefixes within one key are not a practical concern.
func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

func sortedCopy(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	return out
}
