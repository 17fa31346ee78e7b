// Package ratelimit implements a token-bucket gate bounding the outbound
// request rate of the scraper, independent of the worker count. The bucket
// can be reconfigured at runtime, which the pipeline uses to run its retry
// pass at a more conservative rate.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/oppwatch/eyp-scraper/pkg/logging"
)

// Prometheus metrics for rate limiter operations.
var (
	limiterAcquiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eyp_rate_limiter_acquired_total",
		Help: "Total number of tokens handed out by the rate limiter",
	})

	limiterWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eyp_rate_limiter_wait_seconds",
		Help:    "Time callers spent waiting for a rate limiter token",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10},
	})

	limiterReconfiguresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eyp_rate_limiter_reconfigures_total",
		Help: "Total number of runtime rate reconfigurations",
	})
)

// Rate expresses a token-bucket rate of Count tokens per Period.
type Rate struct {
	Count  int
	Period time.Duration
}

// Limiter is a reconfigurable token bucket. The first Count calls are
// admitted as a burst; afterwards tokens refill at Count per Period.
type Limiter struct {
	bucket *rate.Limiter
	logger zerolog.Logger

	mu      sync.Mutex
	current Rate
}

// New creates a limiter admitting r.Count requests per r.Period.
func New(r Rate) *Limiter {
	return &Limiter{
		bucket:  rate.NewLimiter(limitFor(r), r.Count),
		logger:  logging.NewLogger("ratelimit"),
		current: r,
	}
}

// Acquire blocks until a token is available or the context is done.
// It never fails for rate reasons; the only error source is ctx.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := l.bucket.Wait(ctx); err != nil {
		return err
	}

	waited := time.Since(start)
	limiterAcquiredTotal.Inc()
	limiterWaitSeconds.Observe(waited.Seconds())

	if waited > time.Second {
		l.logger.Debug().
			Dur("waited", waited).
			Msg("Rate limiter delayed request")
	}
	return nil
}

// Configure swaps the bucket rate at runtime. Waiters already holding a
// reservation under the old rate keep it; SetLimit/SetBurst only affect
// tokens not yet reserved, so swapping cannot over-admit.
func (l *Limiter) Configure(r Rate) {
	l.mu.Lock()
	l.current = r
	l.mu.Unlock()

	l.bucket.SetLimit(limitFor(r))
	l.bucket.SetBurst(r.Count)

	limiterReconfiguresTotal.Inc()
	l.logger.Info().
		Int("count", r.Count).
		Dur("period", r.Period).
		Msg("Rate limiter reconfigured")
}

// Snapshot returns the currently configured rate, so a caller that
// tightens the limiter temporarily can restore the exact prior rate.
func (l *Limiter) Snapshot() Rate {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func limitFor(r Rate) rate.Limit {
	if r.Count <= 0 || r.Period <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(r.Count) / r.Period.Seconds())
}
