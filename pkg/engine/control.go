package engine

import (
	"context"

	"github.com/papersift/llm-engine/pkg/pool"
)

// Stop prevents new batches from being dispatched. In-flight batches finish
// and their results are merged; Run returns the partial annotated list.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true
	close(e.stopCh)
	// A paused or credential-waiting run must observe the stop.
	e.resumeLocked()
	e.signalCredentialLocked()
	e.logger.Info().Msg("Stop requested")
}

// Pause suspends dispatching new batches until Resume.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resumeCh == nil {
		e.resumeCh = make(chan struct{})
		e.logger.Info().Msg("Run paused")
	}
}

// Resume continues a paused run.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resumeLocked()
}

func (e *Engine) resumeLocked() {
	if e.resumeCh != nil {
		close(e.resumeCh)
		e.resumeCh = nil
		e.logger.Info().Msg("Run resumed")
	}
}

// ProvideCredential adds a fresh credential to the pool and wakes batches
// suspended by the prompt_user fallback.
func (e *Engine) ProvideCredential(cred pool.Credential) {
	e.pool.AddCredential(cred)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.signalCredentialLocked()
	e.resumeLocked()
	e.logger.Info().Str("credential", cred.Masked()).Msg("Credential provided")
}

func (e *Engine) signalCredentialLocked() {
	if e.credCh != nil {
		close(e.credCh)
		e.credCh = nil
	}
}

func (e *Engine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// waitIfPaused blocks while the run is paused. Returns the context error on
// cancellation and ErrStoppedByCaller on stop.
func (e *Engine) waitIfPaused(ctx context.Context) error {
	for {
		e.mu.Lock()
		if e.stopped {
			e.mu.Unlock()
			return ErrStoppedByCaller
		}
		ch := e.resumeCh
		e.mu.Unlock()
		if ch == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stopCh:
			return ErrStoppedByCaller
		case <-ch:
		}
	}
}

// waitForCredential blocks until ProvideCredential is called.
func (e *Engine) waitForCredential(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrStoppedByCaller
	}
	if e.credCh == nil {
		e.credCh = make(chan struct{})
	}
	ch := e.credCh
	e.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopCh:
		return ErrStoppedByCaller
	case <-ch:
		return nil
	}
}

// resetControls prepares the control surface for a new run.
func (e *Engine) resetControls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = false
	e.stopCh = make(chan struct{})
	e.resumeCh = nil
	e.credCh = nil
}
