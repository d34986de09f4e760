package engine

import (
	"context"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/papersift/llm-engine/pkg/provider"
)

var (
	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_engine_retry_backoff_seconds",
		Help:    "Backoff duration for batch retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_engine_retry_exhausted_total",
		Help: "Total number of batches that exhausted their retry budget",
	}, []string{"error_class"})
)

// RetryConfig holds backoff parameters for one error class.
type RetryConfig struct {
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// retryConfigForClass tunes backoff per failure class. Rate limits get a
// long initial wait because the upstream window is per-minute; transient
// 5xx failures recover faster.
func retryConfigForClass(class provider.Class) RetryConfig {
	switch class {
	case provider.ClassRateLimit:
		return RetryConfig{
			InitialBackoff:    5 * time.Second,
			MaxBackoff:        60 * time.Second,
			BackoffMultiplier: 2.0,
		}
	case provider.ClassMalformed:
		return RetryConfig{
			InitialBackoff:    1 * time.Second,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
		}
	default:
		return RetryConfig{
			InitialBackoff:    2 * time.Second,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2.0,
		}
	}
}

// backoffFor computes the jittered wait before retry number attempt
// (1-based). Jitter is ±20% to avoid synchronized retries across workers.
func backoffFor(class provider.Class, attempt int) time.Duration {
	config := retryConfigForClass(class)
	backoff := config.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
			break
		}
	}
	jittered := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
	retryBackoffSeconds.WithLabelValues(string(class)).Observe(jittered.Seconds())
	return jittered
}

// sleep waits for d or until the context is cancelled or the run stopped.
func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopCh:
		return ErrStoppedByCaller
	case <-timer.C:
		return nil
	}
}
