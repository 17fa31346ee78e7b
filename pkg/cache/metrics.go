package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheHits tracks detail-document cache hits.
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eyp_detail_cache_hits_total",
		Help: "Total detail-document cache hits",
	})

	// cacheMisses tracks detail-document cache misses.
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eyp_detail_cache_misses_total",
		Help: "Total detail-document cache misses",
	})

	// cacheErrors tracks cache operation errors.
	cacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eyp_detail_cache_errors_total",
		Help: "Total detail-document cache operation errors",
	}, []string{"operation"})
)
