// Package pool tracks health and quota state per (credential, model) pair
// and owns the credential and model-profile data.
package pool

import "github.com/papersift/llm-engine/pkg/usage"

// Credential is one stored API key. The secret is never logged unmasked;
// use Masked or Label in any output.
type Credential struct {
	Key   string
	Label string
}

// Masked renders the credential for display: first 8 + 8 stars + last 4,
// or fully masked for keys of 12 characters or fewer.
func (c Credential) Masked() string {
	return usage.MaskKey(c.Key)
}

// DisplayName prefers the operator-assigned label over the masked key.
func (c Credential) DisplayName() string {
	if c.Label != "" {
		return c.Label
	}
	return c.Masked()
}
