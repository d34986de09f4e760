package engine

import (
	"time"

	"github.com/papersift/llm-engine/pkg/paper"
	"github.com/papersift/llm-engine/pkg/pool"
	"github.com/papersift/llm-engine/pkg/progress"
)

// FallbackStrategy decides what happens when every credential/model pair is
// exhausted or disabled.
type FallbackStrategy string

const (
	// FallbackRuleBased annotates remaining papers with a deterministic
	// default-include verdict so the run always completes.
	FallbackRuleBased FallbackStrategy = "rule_based"

	// FallbackPromptUser suspends the run until ProvideCredential
	// supplies a fresh key.
	FallbackPromptUser FallbackStrategy = "prompt_user"

	// FallbackFail aborts the run, returning merged partial results plus
	// the error.
	FallbackFail FallbackStrategy = "fail"
)

// Request defaults.
const (
	DefaultBatchSize            = 20
	DefaultMaxConcurrentBatches = 3
	DefaultRetryAttempts        = 3
	DefaultCallTimeout          = 60 * time.Second
)

// ModelAuto lets the selector pick the cheapest healthy model.
const ModelAuto = "auto"

// Request describes one filtering run.
type Request struct {
	// Papers is the ordered input list. The result preserves this order.
	Papers []paper.Paper

	// InclusionPrompt drives the first filter pass. Required.
	InclusionPrompt string

	// ExclusionPrompt, when non-empty, drives a second pass over all
	// papers.
	ExclusionPrompt string

	// SystemPrompt is prepended to every call as the system instruction.
	SystemPrompt string

	// Model is "auto" or a concrete model name. A concrete name pins
	// every call to that model (no tier escalation).
	Model string

	// Credentials are merged into the engine's pool before the run.
	Credentials []pool.Credential

	BatchSize            int
	MaxConcurrentBatches int

	// RetryAttempts bounds rotations and backoff retries per batch.
	RetryAttempts int

	// Timeout bounds each individual provider call.
	Timeout time.Duration

	// DisableKeyRotation keeps failing calls on their selected pair,
	// recovering by backoff only. Rotation is on by default.
	DisableKeyRotation bool

	FallbackStrategy FallbackStrategy

	Temperature     float32
	MaxOutputTokens int32

	// Sink receives progress snapshots. Nil means progress is discarded.
	Sink progress.Sink
}

func (r *Request) normalize() error {
	if r.InclusionPrompt == "" {
		return ErrNoPrompt
	}
	if r.BatchSize <= 0 {
		r.BatchSize = DefaultBatchSize
	}
	if r.MaxConcurrentBatches <= 0 {
		r.MaxConcurrentBatches = DefaultMaxConcurrentBatches
	}
	if r.RetryAttempts <= 0 {
		r.RetryAttempts = DefaultRetryAttempts
	}
	if r.Timeout <= 0 {
		r.Timeout = DefaultCallTimeout
	}
	if r.Model == "" {
		r.Model = ModelAuto
	}
	if r.FallbackStrategy == "" {
		r.FallbackStrategy = FallbackRuleBased
	}
	return nil
}
