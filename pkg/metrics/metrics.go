// Package metrics provides the central Prometheus registry reference for
// the engine. All metrics are defined in their respective packages (engine,
// pool, usage, cache, progress) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the engine.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Usage Metrics (pkg/usage):
//   - llm_usage_requests_total{model} (Counter): Recorded requests by model
//   - llm_usage_tokens_total{model} (Counter): Recorded tokens by model
//   - llm_usage_day_rollovers_total (Counter): Day boundary archives
//
// Pool Metrics (pkg/pool):
//   - llm_pool_state_transitions_total{state} (Counter): Pair health transitions
//   - llm_pool_healthy_pairs (Gauge): Healthy pairs at the last poll
//
// Cache Metrics (pkg/cache):
//   - llm_cache_hits_total (Counter): Verdict cache hits
//   - llm_cache_misses_total (Counter): Verdict cache misses
//   - llm_cache_errors_total{operation} (Counter): Cache operation errors
//
// Engine Metrics (pkg/engine, pkg/progress):
//   - llm_engine_retries_total (Counter): Batch call retries
//   - llm_engine_key_rotations_total (Counter): Credential rotations
//   - llm_engine_model_fallbacks_total (Counter): Model fallbacks
//   - llm_engine_retry_backoff_seconds{error_class} (Histogram): Backoff durations
//   - llm_engine_retry_exhausted_total{error_class} (Counter): Batches that ran out of retries
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(llm_cache_hits_total[5m])) /
//   (sum(rate(llm_cache_hits_total[5m])) + sum(rate(llm_cache_misses_total[5m])))
//
//   # Rotation Pressure
//   rate(llm_engine_key_rotations_total[5m])
//
//   # Daily Token Burn by Model
//   sum by (model) (increase(llm_usage_tokens_total[24h]))
//
//   # Pool Health
//   llm_pool_healthy_pairs == 0
