package provider

import (
	"context"

	"github.com/papersift/llm-engine/pkg/pool"
)

// CompleteRequest describes a single model invocation.
type CompleteRequest struct {
	Credential pool.Credential
	Model      string

	// System is the system instruction; empty means none.
	System string
	Prompt string

	// StructuredJSON requests JSON output constrained to the verdict
	// schema. PaperIDs lists the IDs the reply must cover; it is only
	// consulted when StructuredJSON is set.
	StructuredJSON bool
	PaperIDs       []string

	Temperature     float32
	MaxOutputTokens int32

	// OnTokens, when non-nil, switches the call to streaming and is
	// invoked once per received chunk with the chunk text.
	OnTokens func(chunk string)
}

// CompleteResult is the outcome of a successful model invocation.
type CompleteResult struct {
	Text string

	// Tokens is the total token count reported by the provider, used
	// for ledger accounting. Zero when the provider omits usage data.
	Tokens int64
}

// Caller abstracts the LLM backend so the engine can be exercised against
// scripted fakes.
type Caller interface {
	Complete(ctx context.Context, req CompleteRequest) (CompleteResult, error)
}
