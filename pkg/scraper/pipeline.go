// Package scraper orchestrates the acquisition pipeline: sequential
// pagination, bounded-concurrency detail scraping, a single conservative
// retry pass over the failures, and handoff to storage.
package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/oppwatch/eyp-scraper/pkg/cache"
	"github.com/oppwatch/eyp-scraper/pkg/extract"
	"github.com/oppwatch/eyp-scraper/pkg/logging"
	"github.com/oppwatch/eyp-scraper/pkg/opportunity"
	"github.com/oppwatch/eyp-scraper/pkg/pagination"
	"github.com/oppwatch/eyp-scraper/pkg/ratelimit"
)

// Store is the persistence collaborator. Both calls may be slow and are
// never retried here; their failure fails the whole run.
type Store interface {
	UpsertMany(ctx context.Context, records []opportunity.Record) (int, error)
	Backup(ctx context.Context, path string) error
}

// Fetcher is the HTTP collaborator: one rate-limited GET per call, plus
// connection-pool teardown when the run ends.
type Fetcher interface {
	pagination.Fetcher
	Close()
}

// Config holds pipeline-level knobs.
type Config struct {
	// MaxWorkers caps concurrently in-flight detail scrapes.
	MaxWorkers int

	// RetryPassRate is the conservative rate for the retry pass.
	RetryPassRate ratelimit.Rate

	// RetryCooldown is the pause before the retry pass starts.
	RetryCooldown time.Duration

	// AutoBackup triggers a JSON export after persisting.
	AutoBackup bool

	// BackupPath is the JSON export destination.
	BackupPath string
}

// DefaultConfig mirrors the production settings.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:    15,
		RetryPassRate: ratelimit.Rate{Count: 1, Period: 2 * time.Second},
		RetryCooldown: 5 * time.Second,
	}
}

// Deps wires the pipeline collaborators.
type Deps struct {
	Paginator *pagination.Paginator
	Fetcher   Fetcher
	Extractor *extract.Extractor
	Limiter   *ratelimit.Limiter
	Store     Store
	Cache     *cache.Manager // optional
	Progress  ProgressFunc   // optional
}

// Pipeline is the orchestrator for one or more full scraping runs.
// Each RunFullPipeline call uses a fresh Session.
type Pipeline struct {
	deps    Deps
	config  Config
	session *Session
	logger  zerolog.Logger
}

// NewPipeline validates collaborators and builds the orchestrator.
func NewPipeline(deps Deps, cfg Config) (*Pipeline, error) {
	if deps.Paginator == nil || deps.Fetcher == nil || deps.Extractor == nil {
		return nil, fmt.Errorf("paginator, fetcher and extractor are required")
	}
	if deps.Limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultConfig().MaxWorkers
	}
	if cfg.RetryPassRate.Count <= 0 {
		cfg.RetryPassRate = DefaultConfig().RetryPassRate
	}
	if cfg.RetryCooldown <= 0 {
		cfg.RetryCooldown = DefaultConfig().RetryCooldown
	}

	return &Pipeline{
		deps:    deps,
		config:  cfg,
		session: NewSession(),
		logger:  logging.NewLogger("pipeline"),
	}, nil
}

// RunFullPipeline executes pagination, scheduling, the retry pass and
// persistence. It returns the number of rows the store reported saved.
// Per-record failures never fail the run; a storage or context error
// does, finalizing the session as failed.
func (p *Pipeline) RunFullPipeline(ctx context.Context) (int, error) {
	p.session = NewSession()
	defer p.deps.Fetcher.Close()

	p.logger.Info().
		Str("session_id", p.session.ID()).
		Int("max_workers", p.config.MaxWorkers).
		Msg("Starting full scraping pipeline")

	summaries, pageErr := p.deps.Paginator.FetchAll(ctx)
	if pageErr != nil {
		// Truncated listing: keep what we have, remember why.
		p.session.RecordError(fmt.Sprintf("pagination: %v", pageErr))
	}
	summaries = dedupeByOpid(summaries)
	p.session.SetTotalFound(len(summaries))

	if len(summaries) == 0 {
		p.logger.Warn().Msg("No opportunities found in listing")
		p.session.Finalize(StatusCompleted)
		return 0, nil
	}

	sched := newScheduler(p.deps.Fetcher, p.deps.Extractor, p.deps.Cache, p.session, p.config.MaxWorkers, p.deps.Progress)
	records := sched.ScrapeAll(ctx, summaries)

	if missing := missingSummaries(summaries, records); len(missing) > 0 {
		records = append(records, p.retryPass(ctx, sched, missing)...)
	}

	if ctx.Err() != nil {
		return p.fail(fmt.Errorf("pipeline aborted: %w", ctx.Err()))
	}

	if len(records) == 0 {
		p.logger.Warn().Msg("No opportunities scraped successfully")
		p.session.Finalize(StatusCompleted)
		return 0, nil
	}

	p.logger.Info().Int("records", len(records)).Msg("Persisting scraped records")
	saved, err := p.deps.Store.UpsertMany(ctx, records)
	if err != nil {
		return p.fail(fmt.Errorf("persist records: %w", err))
	}

	if p.config.AutoBackup {
		if err := p.deps.Store.Backup(ctx, p.config.BackupPath); err != nil {
			return p.fail(fmt.Errorf("backup: %w", err))
		}
	}

	p.session.Finalize(StatusCompleted)

	stats := p.session.Statistics()
	p.logger.Info().
		Str("session_id", stats.SessionID).
		Int("saved", saved).
		Int("succeeded", stats.Succeeded).
		Int("failed", stats.Failed).
		Float64("duration_s", stats.DurationSeconds).
		Msg("Scraping pipeline completed")

	return saved, nil
}

// retryPass re-runs the scheduler once over the summaries that produced
// no record, after a cool-down and under a stricter rate. Failures that
// survive it are final.
func (p *Pipeline) retryPass(ctx context.Context, sched *scheduler, missing []pagination.Summary) []opportunity.Record {
	p.logger.Info().
		Int("failed", len(missing)).
		Dur("cooldown", p.config.RetryCooldown).
		Msg("Retrying failed items under conservative rate")

	// Failures recovered by the retry pass must not stay counted.
	p.session.ResetFailures()

	select {
	case <-ctx.Done():
		return nil
	case <-time.After(p.config.RetryCooldown):
	}

	normal := p.deps.Limiter.Snapshot()
	p.deps.Limiter.Configure(p.config.RetryPassRate)
	defer p.deps.Limiter.Configure(normal)

	recovered := sched.ScrapeAll(ctx, missing)

	p.logger.Info().
		Int("recovered", len(recovered)).
		Int("final_failures", p.session.FailedCount()).
		Msg("Retry pass completed")

	return recovered
}

func (p *Pipeline) fail(err error) (int, error) {
	p.session.RecordError(err.Error())
	p.session.Finalize(StatusFailed)
	p.logger.Error().Err(err).Msg("Scraping pipeline failed")
	return 0, err
}

// GetSessionStatistics returns the current session snapshot.
func (p *Pipeline) GetSessionStatistics() Statistics {
	return p.session.Statistics()
}

// dedupeByOpid keeps the first summary per opid; listings occasionally
// repeat entries across page boundaries while the index shifts.
func dedupeByOpid(summaries []pagination.Summary) []pagination.Summary {
	seen := make(map[string]struct{}, len(summaries))
	out := summaries[:0]
	for _, summary := range summaries {
		if summary.Opid != "" {
			if _, dup := seen[summary.Opid]; dup {
				continue
			}
			seen[summary.Opid] = struct{}{}
		}
		out = append(out, summary)
	}
	return out
}

// missingSummaries returns the summaries whose opid produced no record.
func missingSummaries(summaries []pagination.Summary, records []opportunity.Record) []pagination.Summary {
	got := make(map[string]struct{}, len(records))
	for _, rec := range records {
		got[rec.Opid] = struct{}{}
	}

	var missing []pagination.Summary
	for _, summary := range summaries {
		if _, ok := got[summary.Opid]; !ok {
			missing = append(missing, summary)
		}
	}
	return missing
}
