package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks verdict cache hits.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "llm_cache_hits_total",
			Help: "Total number of verdict cache hits",
		},
	)

	// CacheMisses tracks verdict cache misses.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "llm_cache_misses_total",
			Help: "Total number of verdict cache misses",
		},
	)

	// CacheErrors tracks cache operation errors.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
