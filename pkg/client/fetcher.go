// Package client provides the retrying HTTP fetcher used by both the
// paginator and the detail scheduler. Every attempt first takes a rate
// limiter token; backoff policy depends on the failure class.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/oppwatch/eyp-scraper/pkg/logging"
	"github.com/oppwatch/eyp-scraper/pkg/ratelimit"
)

// Prometheus metrics for fetch operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eyp_requests_total",
		Help: "Total portal requests by HTTP status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eyp_request_duration_seconds",
		Help:    "Portal request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20},
	})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eyp_retries_total",
		Help: "Total fetch retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eyp_retry_backoff_seconds",
		Help:    "Backoff duration before fetch retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eyp_retry_exhausted_total",
		Help: "Total fetches that exhausted all attempts by error class",
	}, []string{"error_class"})
)

// rateLimitBackoffBase is the exponent base for 429 backoff waits.
const rateLimitBackoffBase = 3.0

// Config holds the fetcher configuration.
type Config struct {
	// RequestTimeout bounds each individual HTTP request.
	RequestTimeout time.Duration

	// MaxRetries is the attempt ceiling per Fetch call.
	MaxRetries int

	// RetryDelay is the base backoff unit.
	RetryDelay time.Duration

	// MaxBackoff caps any single 429 backoff wait.
	MaxBackoff time.Duration

	// MaxWorkers sizes the connection pool: 2x total idle connections,
	// 1x per host, matching the scheduler's in-flight ceiling.
	MaxWorkers int

	// UserAgents to rotate; one is picked per fetcher instance.
	UserAgents []string
}

// DefaultConfig returns a safe default fetcher configuration.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 20 * time.Second,
		MaxRetries:     4,
		RetryDelay:     2 * time.Second,
		MaxBackoff:     60 * time.Second,
		MaxWorkers:     15,
	}
}

// Fetcher issues rate-limited GETs with bounded retries.
type Fetcher struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	config     Config
	userAgent  string
	logger     zerolog.Logger
}

// New creates a fetcher sharing the given rate limiter.
func New(limiter *ratelimit.Limiter, cfg Config) (*Fetcher, error) {
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if cfg.MaxRetries <= 0 {
		return nil, fmt.Errorf("max_retries must be positive (got %d)", cfg.MaxRetries)
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultConfig().MaxWorkers
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}

	userAgent := "eyp-scraper/1.0"
	if len(cfg.UserAgents) > 0 {
		userAgent = cfg.UserAgents[rand.Intn(len(cfg.UserAgents))]
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxWorkers * 2,
		MaxIdleConnsPerHost: cfg.MaxWorkers,
		IdleConnTimeout:     30 * time.Second,
	}

	return &Fetcher{
		httpClient: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
		limiter:   limiter,
		config:    cfg,
		userAgent: userAgent,
		logger:    logging.NewLogger("fetcher"),
	}, nil
}

// Fetch performs a GET against rawURL with the given query parameters.
// It retries timeouts, transport errors and 429 responses with backoff;
// any other non-200 status is terminal for this call. The returned error
// is always a *FetchError (or a context error).
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, params url.Values) (string, error) {
	target, err := buildURL(rawURL, params)
	if err != nil {
		return "", &FetchError{URL: rawURL, Class: ErrorClassRemote, Attempts: 0, Err: err}
	}

	var lastClass ErrorClass
	var lastErr error

	for attempt := 0; attempt < f.config.MaxRetries; attempt++ {
		if err := f.limiter.Acquire(ctx); err != nil {
			return "", err
		}

		body, status, err := f.doRequest(ctx, target)

		switch {
		case err == nil && status == http.StatusOK:
			return body, nil

		case err == nil && status == http.StatusTooManyRequests:
			lastClass = ErrorClassRateLimit
			lastErr = fmt.Errorf("portal returned 429")
			wait := f.rateLimitBackoff(attempt)
			f.logRetry(target, lastClass, attempt, wait)
			if err := sleepCtx(ctx, wait); err != nil {
				return "", err
			}
			continue

		case err == nil:
			// Terminal: the portal answered with a definitive non-200.
			f.logger.Warn().
				Str("url", target).
				Int("status", status).
				Msg("Terminal response status")
			return "", &FetchError{
				URL:        target,
				StatusCode: status,
				Class:      ErrorClassRemote,
				Attempts:   attempt + 1,
			}

		case isTimeout(err):
			lastClass = ErrorClassTimeout
			lastErr = err
			wait := time.Duration(math.Pow(2, float64(attempt))) * f.config.RetryDelay
			f.logRetry(target, lastClass, attempt, wait)
			if err := sleepCtx(ctx, wait); err != nil {
				return "", err
			}

		default:
			lastClass = ErrorClassNetwork
			lastErr = err
			if attempt < f.config.MaxRetries-1 {
				f.logRetry(target, lastClass, attempt, f.config.RetryDelay)
				if err := sleepCtx(ctx, f.config.RetryDelay); err != nil {
					return "", err
				}
			}
		}
	}

	retryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
	f.logger.Error().
		Str("url", target).
		Str("error_class", string(lastClass)).
		Int("max_attempts", f.config.MaxRetries).
		Msg("Fetch attempts exhausted")

	return "", &FetchError{
		URL:      target,
		Class:    lastClass,
		Attempts: f.config.MaxRetries,
		Err:      fmt.Errorf("%w: %v", ErrRetryExhausted, lastErr),
	}
}

// doRequest executes one GET attempt and drains the body on success.
func (f *Fetcher) doRequest(ctx context.Context, target string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	requestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues("transport_error").Inc()
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		requestsTotal.WithLabelValues(fmt.Sprintf("%d", resp.StatusCode)).Inc()
		return "", resp.StatusCode, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		requestsTotal.WithLabelValues("read_error").Inc()
		return "", 0, err
	}

	requestsTotal.WithLabelValues("200").Inc()
	return string(body), resp.StatusCode, nil
}

// rateLimitBackoff grows as base^attempt * RetryDelay, capped at MaxBackoff.
func (f *Fetcher) rateLimitBackoff(attempt int) time.Duration {
	wait := time.Duration(math.Pow(rateLimitBackoffBase, float64(attempt))) * f.config.RetryDelay
	if f.config.MaxBackoff > 0 && wait > f.config.MaxBackoff {
		wait = f.config.MaxBackoff
	}
	return wait
}

func (f *Fetcher) logRetry(target string, class ErrorClass, attempt int, wait time.Duration) {
	retriesTotal.WithLabelValues(string(class)).Inc()
	retryBackoffSeconds.WithLabelValues(string(class)).Observe(wait.Seconds())

	f.logger.Warn().
		Str("url", target).
		Str("error_class", string(class)).
		Int("attempt", attempt+1).
		Int("max_attempts", f.config.MaxRetries).
		Dur("backoff", wait).
		Msg("Retrying fetch after backoff")
}

// Close releases pooled connections. Safe to call on every exit path.
func (f *Fetcher) Close() {
	f.httpClient.CloseIdleConnections()
}

func buildURL(rawURL string, params url.Values) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	query := parsed.Query()
	for key, values := range params {
		for _, v := range values {
			query.Add(key, v)
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// sleepCtx waits for d, aborting early when the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// isTimeout distinguishes deadline expiry from other transport errors.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
