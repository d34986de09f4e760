// Package testutil provides test doubles shared across packages.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/papersift/llm-engine/pkg/provider"
)

// Step is one scripted response. Exactly one of Err or the success fields
// is consumed per call.
type Step struct {
	// Err, when non-nil, fails the call.
	Err error

	// Text is the raw reply body. When empty and Err is nil, the caller
	// synthesizes a valid verdict array from the request's paper IDs.
	Text string

	// Decision applies to synthesized verdicts.
	Decision bool

	// Tokens is the reported usage.
	Tokens int64
}

// ScriptedCaller implements provider.Caller from a fixed script. Once the
// script is consumed, remaining calls succeed with synthesized verdicts.
// Safe for concurrent use.
type ScriptedCaller struct {
	mu    sync.Mutex
	steps []Step
	calls []provider.CompleteRequest

	// DefaultDecision is used for synthesized verdicts after the script
	// runs out.
	DefaultDecision bool

	// DefaultTokens is the usage reported by off-script calls.
	DefaultTokens int64

	// OnCall, when set, runs after each request is recorded. The count
	// is 1-based.
	OnCall func(count int, req provider.CompleteRequest)
}

// NewScriptedCaller builds a caller that replays steps in order.
func NewScriptedCaller(steps ...Step) *ScriptedCaller {
	return &ScriptedCaller{
		steps:           steps,
		DefaultDecision: true,
		DefaultTokens:   100,
	}
}

// Complete implements provider.Caller.
func (c *ScriptedCaller) Complete(ctx context.Context, req provider.CompleteRequest) (provider.CompleteResult, error) {
	if err := ctx.Err(); err != nil {
		return provider.CompleteResult{}, err
	}

	c.mu.Lock()
	c.calls = append(c.calls, req)
	var step Step
	if len(c.steps) > 0 {
		step = c.steps[0]
		c.steps = c.steps[1:]
	} else {
		step = Step{Decision: c.DefaultDecision, Tokens: c.DefaultTokens}
	}
	count := len(c.calls)
	c.mu.Unlock()

	if c.OnCall != nil {
		c.OnCall(count, req)
	}

	if step.Err != nil {
		return provider.CompleteResult{}, step.Err
	}
	if req.OnTokens != nil {
		req.OnTokens(step.Text)
	}
	text := step.Text
	if text == "" {
		text = VerdictJSON(req.PaperIDs, step.Decision, "scripted")
	}
	return provider.CompleteResult{Text: text, Tokens: step.Tokens}, nil
}

// Calls returns a copy of every request received so far.
func (c *ScriptedCaller) Calls() []provider.CompleteRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]provider.CompleteRequest, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallCount returns how many calls were received.
func (c *ScriptedCaller) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// VerdictJSON renders a valid verdict array covering ids.
func VerdictJSON(ids []string, decision bool, reasoning string) string {
	verdicts := make([]provider.Verdict, 0, len(ids))
	for _, id := range ids {
		verdicts = append(verdicts, provider.Verdict{ID: id, Decision: decision, Reasoning: reasoning})
	}
	data, err := json.Marshal(verdicts)
	if err != nil {
		panic(fmt.Sprintf("marshal verdicts: %v", err))
	}
	return string(data)
}
