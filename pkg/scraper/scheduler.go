package scraper

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/oppwatch/eyp-scraper/pkg/cache"
	"github.com/oppwatch/eyp-scraper/pkg/extract"
	"github.com/oppwatch/eyp-scraper/pkg/logging"
	"github.com/oppwatch/eyp-scraper/pkg/opportunity"
	"github.com/oppwatch/eyp-scraper/pkg/pagination"
)

// Prometheus metrics for scheduling.
var (
	recordsScrapedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eyp_records_scraped_total",
		Help: "Total detail scrape units by result",
	}, []string{"result"})

	scrapesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eyp_scrapes_in_flight",
		Help: "Detail scrape units currently in flight",
	})
)

// ProgressFunc is notified after every completed unit, in completion
// order. It runs on the collection path shared by all workers and must
// stay cheap and non-blocking.
type ProgressFunc func(completed, total int, percentage float64, successCount int)

// scheduler fans detail fetch+extract work over summaries with a fixed
// in-flight ceiling. All units are submitted eagerly; the admission gate
// and the shared rate limiter throttle execution.
type scheduler struct {
	fetcher    pagination.Fetcher
	extractor  *extract.Extractor
	cache      *cache.Manager
	session    *Session
	maxWorkers int
	progress   ProgressFunc
	logger     zerolog.Logger
}

type unitResult struct {
	opid   string
	record opportunity.Record
	err    error
}

func newScheduler(fetcher pagination.Fetcher, extractor *extract.Extractor, cacheManager *cache.Manager, session *Session, maxWorkers int, progress ProgressFunc) *scheduler {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &scheduler{
		fetcher:    fetcher,
		extractor:  extractor,
		cache:      cacheManager,
		session:    session,
		maxWorkers: maxWorkers,
		progress:   progress,
		logger:     logging.NewLogger("scheduler"),
	}
}

// ScrapeAll runs fetch+extract for every summary and returns successful
// records in completion order. One unit's failure never blocks others;
// it becomes a session failure entry instead.
func (s *scheduler) ScrapeAll(ctx context.Context, summaries []pagination.Summary) []opportunity.Record {
	total := len(summaries)
	if total == 0 {
		return nil
	}

	s.logger.Info().
		Int("total", total).
		Int("max_workers", s.maxWorkers).
		Msg("Starting detail scrape")

	gate := make(chan struct{}, s.maxWorkers)
	results := make(chan unitResult, total)

	for _, summary := range summaries {
		go func(summary pagination.Summary) {
			gate <- struct{}{}
			defer func() { <-gate }()

			scrapesInFlight.Inc()
			defer scrapesInFlight.Dec()

			record, err := s.scrapeOne(ctx, summary)
			results <- unitResult{opid: summary.Opid, record: record, err: err}
		}(summary)
	}

	records := make([]opportunity.Record, 0, total)
	for completed := 1; completed <= total; completed++ {
		result := <-results

		if result.err != nil {
			recordsScrapedTotal.WithLabelValues("failure").Inc()
			s.session.RecordFailure(fmt.Sprintf("scrape %s: %v", result.opid, result.err))
			s.logger.Warn().
				Str("opid", result.opid).
				Err(result.err).
				Msg("Detail scrape failed")
		} else {
			recordsScrapedTotal.WithLabelValues("success").Inc()
			s.session.RecordSuccess()
			records = append(records, result.record)
		}

		if s.progress != nil {
			percentage := float64(completed) / float64(total) * 100
			s.progress(completed, total, percentage, len(records))
		}

		if completed%progressLogEvery(total) == 0 || completed == total {
			s.logger.Info().
				Int("completed", completed).
				Int("total", total).
				Int("success", len(records)).
				Msg("Scrape progress")
		}
	}

	return records
}

// scrapeOne handles a single summary: cache lookup, fetch, extract.
func (s *scheduler) scrapeOne(ctx context.Context, summary pagination.Summary) (opportunity.Record, error) {
	if summary.Opid == "" {
		return opportunity.Record{}, fmt.Errorf("summary has no opid")
	}

	body, cached := s.cachedBody(ctx, summary.Opid)
	if !cached {
		var err error
		body, err = s.fetcher.Fetch(ctx, s.extractor.DetailURL(summary.Opid), nil)
		if err != nil {
			return opportunity.Record{}, err
		}
		s.storeBody(ctx, summary.Opid, body)
	}

	return s.extractor.Extract(body, summary)
}

func (s *scheduler) cachedBody(ctx context.Context, opid string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	entry, err := s.cache.Get(ctx, opid)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn().Err(err).Str("opid", opid).Msg("Cache get failed")
		}
		return "", false
	}
	return entry.Body, true
}

func (s *scheduler) storeBody(ctx context.Context, opid, body string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, opid, body); err != nil {
		s.logger.Warn().Err(err).Str("opid", opid).Msg("Cache set failed")
	}
}

// progressLogEvery spaces info-level progress lines at roughly 10%.
func progressLogEvery(total int) int {
	every := total / 10
	if every < 1 {
		every = 1
	}
	return every
}
