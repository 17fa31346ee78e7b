// Package metrics provides the centralized Prometheus registry for the
// scraper. All metrics are defined in their respective packages (client,
// ratelimit, pagination, scraper, cache, storage) to maintain modularity
// and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the scraper.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - eyp_rate_limiter_acquired_total (Counter): Permits handed out by the limiter
//   - eyp_rate_limiter_wait_seconds (Histogram): Time spent waiting for a permit
//   - eyp_rate_limiter_reconfigures_total (Counter): Runtime rate changes
//
// Request Metrics (pkg/client):
//   - eyp_requests_total{status} (Counter): Total requests by HTTP status
//   - eyp_request_duration_seconds (Histogram): Request duration
//
// Retry Metrics (pkg/client):
//   - eyp_retries_total{error_class} (Counter): Retry attempts by error class
//   - eyp_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - eyp_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Pagination Metrics (pkg/pagination):
//   - eyp_listing_pages_fetched_total (Counter): Listing pages fetched
//   - eyp_listing_summaries_found_total (Counter): Summary entries discovered
//
// Scrape Metrics (pkg/scraper):
//   - eyp_records_scraped_total{result} (Counter): Detail scrape units by result
//   - eyp_scrapes_in_flight (Gauge): Detail scrape units currently in flight
//
// Cache Metrics (pkg/cache):
//   - eyp_detail_cache_hits_total (Counter): Detail document cache hits
//   - eyp_detail_cache_misses_total (Counter): Detail document cache misses
//   - eyp_detail_cache_errors_total{operation} (Counter): Cache operation errors
//
// Storage Metrics (pkg/storage):
//   - eyp_records_upserted_total (Counter): Records written to the database
//   - eyp_record_upsert_errors_total (Counter): Per-record upsert failures
//
// Example Prometheus Queries:
//
//   # Scrape Success Rate
//   sum(rate(eyp_records_scraped_total{result="success"}[5m])) /
//   sum(rate(eyp_records_scraped_total[5m]))
//
//   # Cache Hit Rate
//   sum(rate(eyp_detail_cache_hits_total[5m])) /
//   (sum(rate(eyp_detail_cache_hits_total[5m])) + sum(rate(eyp_detail_cache_misses_total[5m])))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(eyp_request_duration_seconds_bucket[5m]))
//
//   # Retry Pressure
//   rate(eyp_retries_total[5m])
