package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/papersift/llm-engine/pkg/pool"
	"github.com/papersift/llm-engine/pkg/progress"
	"github.com/papersift/llm-engine/pkg/provider"
	"github.com/papersift/llm-engine/pkg/selector"
)

// GenerateRequest describes a one-off generation call, such as rendering a
// LaTeX section from filtered papers.
type GenerateRequest struct {
	SystemPrompt string
	Prompt       string

	// Model is "auto" or a concrete model name.
	Model string

	// Credentials are merged into the pool before the call.
	Credentials []pool.Credential

	// Stream enables token streaming; progress snapshots then carry an
	// activeStreams row for the call.
	Stream bool

	Temperature     float32
	MaxOutputTokens int32

	RetryAttempts int
	Timeout       time.Duration

	Sink progress.Sink
}

func (r *GenerateRequest) normalize() error {
	if r.Prompt == "" {
		return ErrNoPrompt
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
	return nil
}

// Generate routes a single call through the same selection, retry and
// accounting machinery as filter batches. There is no fallback verdict for
// generation; pool exhaustion surfaces as selector.ErrAllKeysExhausted.
func (e *Engine) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if err := req.normalize(); err != nil {
		return "", err
	}
	for _, c := range req.Credentials {
		e.pool.AddCredential(c)
	}

	rep := progress.NewReporter(req.Sink, e.pool.Quotas, e.pool.HealthyKeyCount)
	rep.Begin(0, 1, "generating")

	mode := selector.ModeAuto
	requested := ""
	if req.Model != ModelAuto {
		mode = selector.ModeManual
		requested = req.Model
	}

	var exclude []pool.PairRef
	rotations := 0
	backoffs := 0
	authRetries := 0

	for {
		pair, err := e.sel.Select(mode, requested, exclude)
		if err != nil {
			rep.Errored(err.Error())
			return "", err
		}

		text, tokens, callErr := e.generateOnce(ctx, pair, req, rep)
		if callErr == nil {
			e.pool.MarkUsed(pair.Ref())
			e.ledger.RecordUsage(pair.Credential.Key, pair.Model.Name, tokens, pair.Credential.Label)
			rep.Completed("generation complete")
			return text, nil
		}
		if errors.Is(callErr, context.Canceled) {
			return "", callErr
		}

		log := e.logger.Warn().
			Err(callErr).
			Str("credential", pair.Credential.Masked()).
			Str("model", pair.Model.Name)

		switch {
		case errors.Is(callErr, provider.ErrQuotaExhausted):
			e.pool.MarkExhausted(pair.Ref())
			log.Msg("Pair quota exhausted during generation")
			exclude = append(exclude, pair.Ref())
			rep.Rotation()
			rotations++
			if rotations > req.RetryAttempts {
				rep.Errored(callErr.Error())
				return "", fmt.Errorf("%w: %w", ErrRetryExhausted, callErr)
			}
		case errors.Is(callErr, provider.ErrRateLimit):
			e.pool.MarkRateLimited(pair.Ref(), rateLimitCooldown)
			log.Msg("Pair rate limited during generation")
			exclude = append(exclude, pair.Ref())
			rep.Rotation()
			rotations++
			if rotations > req.RetryAttempts {
				rep.Errored(callErr.Error())
				return "", fmt.Errorf("%w: %w", ErrRetryExhausted, callErr)
			}
		case errors.Is(callErr, provider.ErrAuth):
			e.pool.MarkDisabled(pair.Ref(), callErr.Error())
			log.Msg("Pair disabled during generation")
			authRetries++
			if authRetries > 1 {
				rep.Errored(callErr.Error())
				return "", callErr
			}
			exclude = append(exclude, pair.Ref())
			rep.Rotation()
		default:
			log.Msg("Transient failure during generation")
			rep.Retry()
			backoffs++
			if backoffs >= req.RetryAttempts {
				rep.Errored(callErr.Error())
				return "", fmt.Errorf("%w: %w", ErrRetryExhausted, callErr)
			}
			if err := e.sleep(ctx, e.backoff(provider.ClassTransient, backoffs)); err != nil {
				return "", err
			}
		}
	}
}

func (e *Engine) generateOnce(ctx context.Context, pair pool.Pair, req GenerateRequest, rep *progress.Reporter) (string, int64, error) {
	creq := provider.CompleteRequest{
		Credential:      pair.Credential,
		Model:           pair.Model.Name,
		System:          req.SystemPrompt,
		Prompt:          req.Prompt,
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxOutputTokens,
	}

	if req.Stream {
		requestID := fmt.Sprintf("gen-%d", e.genSeq.Add(1))
		rep.StreamStarted(requestID, pair.Credential.DisplayName(), pair.Model.Name)
		defer rep.StreamEnded(requestID)
		creq.OnTokens = func(chunk string) {
			// Chunk length stands in for the token count; exact usage
			// arrives with the final usage metadata.
			rep.StreamChunk(requestID, int64(len(chunk)))
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	res, err := e.caller.Complete(callCtx, creq)
	if err != nil {
		return "", 0, err
	}
	return res.Text, res.Tokens, nil
}
