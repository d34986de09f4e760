package engine

import "errors"

var (
	// ErrStoppedByCaller marks a run terminated early through Stop().
	// Results merged before the stop are still returned.
	ErrStoppedByCaller = errors.New("run stopped by caller")

	// ErrRetryExhausted is returned when a batch burned through its retry
	// budget and the fallback strategy is "fail".
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrNoPrompt is returned when a filter request carries no inclusion
	// prompt.
	ErrNoPrompt = errors.New("inclusion prompt is required")
)
