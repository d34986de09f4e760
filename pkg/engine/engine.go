package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/papersift/llm-engine/pkg/cache"
	"github.com/papersift/llm-engine/pkg/paper"
	"github.com/papersift/llm-engine/pkg/pool"
	"github.com/papersift/llm-engine/pkg/progress"
	"github.com/papersift/llm-engine/pkg/provider"
	"github.com/papersift/llm-engine/pkg/selector"
	"github.com/papersift/llm-engine/pkg/usage"
)

// rateLimitCooldown is how long a rate-limited pair sits out before the
// pool considers it healthy again. Gemini rate windows are per-minute.
const rateLimitCooldown = 60 * time.Second

// Engine orchestrates batched filter calls across the credential/model
// pool. One run is active at a time; Stop, Pause, Resume and
// ProvideCredential act on the current run.
type Engine struct {
	pool   *pool.Pool
	sel    *selector.Selector
	ledger *usage.Ledger
	caller provider.Caller
	cache  *cache.Manager
	logger zerolog.Logger

	// backoff is swappable so tests run without real sleeps.
	backoff func(class provider.Class, attempt int) time.Duration

	mu       sync.Mutex
	stopped  bool
	stopCh   chan struct{}
	resumeCh chan struct{}
	credCh   chan struct{}

	genSeq atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache enables the Redis verdict cache.
func WithCache(m *cache.Manager) Option {
	return func(e *Engine) { e.cache = m }
}

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an engine over an initialized pool, selector and ledger.
func New(p *pool.Pool, sel *selector.Selector, ledger *usage.Ledger, caller provider.Caller, opts ...Option) *Engine {
	e := &Engine{
		pool:    p,
		sel:     sel,
		ledger:  ledger,
		caller:  caller,
		logger:  zerolog.Nop(),
		backoff: backoffFor,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "engine").Logger()
	return e
}

// pass is one filter sweep over the full paper list.
type pass struct {
	phase  progress.Phase
	prompt string
}

// Run executes a filtering request and returns the input papers, in input
// order, annotated with verdicts. On error or stop the returned slice still
// carries every annotation merged before the interruption.
func (e *Engine) Run(ctx context.Context, req Request) ([]paper.Paper, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	for _, c := range req.Credentials {
		e.pool.AddCredential(c)
	}
	e.resetControls()

	results := make([]paper.Paper, len(req.Papers))
	copy(results, req.Papers)

	rep := progress.NewReporter(req.Sink, e.pool.Quotas, e.pool.HealthyKeyCount)
	batches := partition(results, req.BatchSize)

	passes := []pass{{progress.PhaseInclusion, req.InclusionPrompt}}
	if req.ExclusionPrompt != "" {
		passes = append(passes, pass{progress.PhaseExclusion, req.ExclusionPrompt})
	}

	rep.Begin(len(results), len(batches)*len(passes), "starting semantic filter")
	e.logger.Info().
		Int("papers", len(results)).
		Int("batches", len(batches)).
		Int("passes", len(passes)).
		Str("model", req.Model).
		Msg("Filter run started")

	var runErr error
	for i, ps := range passes {
		// processedPapers counts papers whose final pass is done, so a
		// stopped run reports processedPapers < totalPapers.
		final := i == len(passes)-1
		if err := e.runPass(ctx, ps, batches, results, req, rep, i*len(batches), final); err != nil {
			runErr = err
			break
		}
		if e.isStopped() {
			break
		}
	}

	rep.SetPhase(progress.PhaseFinalizing, "finalizing decisions")
	paper.FinalizeAll(results)

	switch {
	case runErr != nil && !errors.Is(runErr, ErrStoppedByCaller):
		rep.Errored(runErr.Error())
		e.logger.Error().Err(runErr).Msg("Filter run failed")
		return results, runErr
	case e.isStopped():
		rep.Completed("stopped; partial results merged")
		e.logger.Info().Msg("Filter run stopped by caller")
		return results, nil
	default:
		rep.Completed("filter complete")
		e.logger.Info().Msg("Filter run completed")
		return results, nil
	}
}

// runPass fans batches out to a bounded worker pool and merges verdicts
// into the index-addressed results slice. Batches write disjoint ranges,
// so no lock is needed on results.
func (e *Engine) runPass(
	ctx context.Context,
	ps pass,
	batches []batch,
	results []paper.Paper,
	req Request,
	rep *progress.Reporter,
	batchOffset int,
	countProgress bool,
) error {
	rep.SetPhase(ps.phase, fmt.Sprintf("%s pass", ps.phase))

	passCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := req.MaxConcurrentBatches
	if workers > len(batches) {
		workers = len(batches)
	}

	jobs := make(chan batch)
	var wg sync.WaitGroup
	var errOnce sync.Once
	var firstErr error

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range jobs {
				// A batch handed over but not yet started is not
				// in-flight; a stop skips it.
				if e.isStopped() {
					continue
				}
				verdicts, err := e.executeBatch(passCtx, ps, b, results, req, rep, batchOffset)
				if err != nil {
					if errors.Is(err, ErrStoppedByCaller) || errors.Is(err, context.Canceled) {
						return
					}
					errOnce.Do(func() {
						firstErr = err
						cancel()
					})
					return
				}
				e.applyVerdicts(ps.phase, b, results, verdicts)
				if countProgress {
					rep.BatchCompleted(len(b.ids))
				} else {
					rep.BatchCompleted(0)
				}
			}
		}()
	}

feed:
	for _, b := range batches {
		if err := e.waitIfPaused(passCtx); err != nil {
			break
		}
		select {
		case jobs <- b:
		case <-passCtx.Done():
			break feed
		case <-e.stopCh:
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// applyVerdicts writes a batch's verdicts into its slot of the results
// slice. Paper identity is by ID; positions come from the batch offset.
func (e *Engine) applyVerdicts(phase progress.Phase, b batch, results []paper.Paper, verdicts map[string]provider.Verdict) {
	for i, id := range b.ids {
		v, ok := verdicts[id]
		if !ok {
			continue
		}
		p := &results[b.start+i]
		decision := v.Decision
		switch phase {
		case progress.PhaseInclusion:
			p.Inclusion = &decision
			p.InclusionReasoning = v.Reasoning
		case progress.PhaseExclusion:
			p.Exclusion = &decision
			p.ExclusionReasoning = v.Reasoning
		}
	}
}

// executeBatch runs one batch call under the retry/fallback policy:
// rate-limit and quota failures rotate to another pair, transient failures
// back off on the same pair, auth failures disable the pair and retry once
// elsewhere. When the pool runs dry the request's fallback strategy decides.
func (e *Engine) executeBatch(
	ctx context.Context,
	ps pass,
	b batch,
	results []paper.Paper,
	req Request,
	rep *progress.Reporter,
	batchOffset int,
) (map[string]provider.Verdict, error) {
	papers := results[b.start : b.start+len(b.ids)]

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
	lastModel := ""

	for {
		if err := e.waitIfPaused(ctx); err != nil {
			return nil, err
		}

		pair, err := e.sel.Select(mode, requested, exclude)
		if err != nil {
			verdicts, resumed, ferr := e.applyFallback(ctx, ps, b.ids, req, rep, err)
			if resumed {
				exclude, rotations, backoffs, authRetries, lastModel = nil, 0, 0, 0, ""
				continue
			}
			return verdicts, ferr
		}
		if lastModel != "" && pair.Model.Name != lastModel {
			rep.Fallback()
		}
		lastModel = pair.Model.Name
		rep.BatchStarted(batchOffset+b.index+1, pair.Model.Name,
			fmt.Sprintf("%s pass: batch %d", ps.phase, b.index+1))

		key := cache.Key{
			Phase:    string(ps.phase),
			Model:    pair.Model.Name,
			Prompt:   ps.prompt,
			PaperIDs: b.ids,
		}
		if e.cache != nil {
			if entry, cerr := e.cache.Get(ctx, key); cerr == nil {
				e.logger.Debug().Str("key", key.String()).Msg("Verdict cache hit")
				return entry.Verdicts, nil
			}
		}

		verdicts, tokens, callErr := e.callOnce(ctx, pair, ps, papers, b.ids, req)
		if callErr == nil {
			e.pool.MarkUsed(pair.Ref())
			e.ledger.RecordUsage(pair.Credential.Key, pair.Model.Name, tokens, pair.Credential.Label)
			if e.cache != nil {
				if serr := e.cache.Set(ctx, key, &cache.Entry{
					Verdicts: verdicts,
					Model:    pair.Model.Name,
					CachedAt: time.Now(),
				}); serr != nil {
					e.logger.Warn().Err(serr).Msg("Verdict cache write failed")
				}
			}
			return verdicts, nil
		}
		if errors.Is(callErr, context.Canceled) || errors.Is(callErr, ErrStoppedByCaller) {
			return nil, callErr
		}

		log := e.logger.Warn().
			Err(callErr).
			Str("credential", pair.Credential.Masked()).
			Str("model", pair.Model.Name).
			Int("batch", b.index+1)

		rotate := false
		var waitClass provider.Class

		switch {
		case errors.Is(callErr, provider.ErrQuotaExhausted):
			e.pool.MarkExhausted(pair.Ref())
			log.Msg("Pair quota exhausted")
			if req.DisableKeyRotation {
				waitClass = provider.ClassRateLimit
			} else {
				rotate = true
			}
		case errors.Is(callErr, provider.ErrRateLimit):
			e.pool.MarkRateLimited(pair.Ref(), rateLimitCooldown)
			log.Msg("Pair rate limited")
			if req.DisableKeyRotation {
				waitClass = provider.ClassRateLimit
			} else {
				rotate = true
			}
		case errors.Is(callErr, provider.ErrAuth):
			e.pool.MarkDisabled(pair.Ref(), callErr.Error())
			log.Msg("Pair disabled after auth failure")
			authRetries++
			if authRetries > 1 {
				verdicts, resumed, ferr := e.applyFallback(ctx, ps, b.ids, req, rep, callErr)
				if resumed {
					exclude, rotations, backoffs, authRetries, lastModel = nil, 0, 0, 0, ""
					continue
				}
				return verdicts, ferr
			}
			rotate = true
		case errors.Is(callErr, provider.ErrMalformedResponse):
			log.Msg("Reply still malformed after repair prompt")
			waitClass = provider.ClassMalformed
		default:
			log.Msg("Transient provider failure")
			waitClass = provider.ClassTransient
		}

		if rotate {
			exclude = append(exclude, pair.Ref())
			rep.Rotation()
			rotations++
			if rotations > req.RetryAttempts {
				retryExhaustedTotal.WithLabelValues(string(provider.Classify(callErr))).Inc()
				verdicts, resumed, ferr := e.applyFallback(ctx, ps, b.ids, req, rep, callErr)
				if resumed {
					exclude, rotations, backoffs, authRetries, lastModel = nil, 0, 0, 0, ""
					continue
				}
				return verdicts, ferr
			}
			continue
		}

		rep.Retry()
		backoffs++
		if backoffs >= req.RetryAttempts {
			retryExhaustedTotal.WithLabelValues(string(waitClass)).Inc()
			verdicts, resumed, ferr := e.applyFallback(ctx, ps, b.ids, req, rep, callErr)
			if resumed {
				exclude, rotations, backoffs, authRetries, lastModel = nil, 0, 0, 0, ""
				continue
			}
			return verdicts, ferr
		}
		if err := e.sleep(ctx, e.backoff(waitClass, backoffs)); err != nil {
			return nil, err
		}
	}
}

// applyFallback resolves an exhausted batch per the request's strategy.
// The resumed return tells the caller to reset and re-enter its loop.
func (e *Engine) applyFallback(
	ctx context.Context,
	ps pass,
	ids []string,
	req Request,
	rep *progress.Reporter,
	cause error,
) (verdicts map[string]provider.Verdict, resumed bool, err error) {
	switch req.FallbackStrategy {
	case FallbackPromptUser:
		rep.Errored("all credentials exhausted: " + cause.Error())
		rep.Paused("waiting for a new API key")
		e.logger.Warn().Err(cause).Msg("Pool exhausted; suspended until a credential is provided")
		if werr := e.waitForCredential(ctx); werr != nil {
			return nil, false, werr
		}
		rep.Resumed()
		return nil, true, nil

	case FallbackFail:
		e.Stop()
		return nil, false, fmt.Errorf("%w: %w", ErrRetryExhausted, cause)

	default: // FallbackRuleBased
		decision := ps.phase == progress.PhaseInclusion
		verdicts = make(map[string]provider.Verdict, len(ids))
		for _, id := range ids {
			verdicts[id] = provider.Verdict{
				ID:        id,
				Decision:  decision,
				Reasoning: "fallback: rule-based",
			}
		}
		e.logger.Warn().Err(cause).Int("papers", len(ids)).Msg("Applying rule-based fallback verdicts")
		return verdicts, false, nil
	}
}

// callOnce performs one provider call with decode and at most one repair
// re-prompt. Token counts from both calls are summed; usage is recorded by
// the caller only on success so failed batches never increment the ledger.
func (e *Engine) callOnce(
	ctx context.Context,
	pair pool.Pair,
	ps pass,
	papers []paper.Paper,
	ids []string,
	req Request,
) (map[string]provider.Verdict, int64, error) {
	creq := provider.CompleteRequest{
		Credential:      pair.Credential,
		Model:           pair.Model.Name,
		System:          req.SystemPrompt,
		Prompt:          buildFilterPrompt(ps.prompt, papers),
		StructuredJSON:  true,
		PaperIDs:        ids,
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxOutputTokens,
	}

	callCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	res, err := e.caller.Complete(callCtx, creq)
	cancel()
	if err != nil {
		return nil, 0, err
	}
	tokens := res.Tokens

	verdicts, derr := provider.DecodeVerdicts(res.Text, ids)
	if derr == nil {
		return verdicts, tokens, nil
	}

	e.logger.Warn().
		Err(derr).
		Str("model", pair.Model.Name).
		Msg("Malformed reply; issuing repair prompt")

	creq.Prompt = repairPrompt(ps.prompt, papers, ids)
	repairCtx, rcancel := context.WithTimeout(ctx, req.Timeout)
	res, err = e.caller.Complete(repairCtx, creq)
	rcancel()
	if err != nil {
		return nil, 0, err
	}
	tokens += res.Tokens

	verdicts, derr = provider.DecodeVerdicts(res.Text, ids)
	if derr != nil {
		return nil, 0, derr
	}
	return verdicts, tokens, nil
}
