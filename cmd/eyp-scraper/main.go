package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/oppwatch/eyp-scraper/pkg/analytics"
	"github.com/oppwatch/eyp-scraper/pkg/cache"
	"github.com/oppwatch/eyp-scraper/pkg/client"
	"github.com/oppwatch/eyp-scraper/pkg/config"
	"github.com/oppwatch/eyp-scraper/pkg/extract"
	"github.com/oppwatch/eyp-scraper/pkg/logging"
	"github.com/oppwatch/eyp-scraper/pkg/pagination"
	"github.com/oppwatch/eyp-scraper/pkg/ratelimit"
	"github.com/oppwatch/eyp-scraper/pkg/scraper"
	"github.com/oppwatch/eyp-scraper/pkg/storage"
)

const usage = `Usage: eyp-scraper <command> [flags]

Commands:
  scrape    Run the full scraping pipeline
  stats     Print corpus statistics
  query     Search stored opportunities
  details   Show one opportunity by opid
  export    Export stored opportunities as JSON

Global flags are read from config (EYP_SCRAPER_CONFIG) and environment.
`

func main() {
	// A missing .env is fine; variables may be set externally.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Warn().Msg("Interrupt received, cancelling")
		cancel()
	}()

	var cmdErr error
	switch os.Args[1] {
	case "scrape":
		cmdErr = runScrape(ctx, cfg, logger, os.Args[2:])
	case "stats":
		cmdErr = runStats(ctx, cfg, os.Args[2:])
	case "query":
		cmdErr = runQuery(ctx, cfg, os.Args[2:])
	case "details":
		cmdErr = runDetails(ctx, cfg, os.Args[2:])
	case "export":
		cmdErr = runExport(ctx, cfg, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if cmdErr != nil {
		logger.Error().Err(cmdErr).Msg("Command failed")
		os.Exit(1)
	}
}

func runScrape(ctx context.Context, cfg config.Config, logger zerolog.Logger, args []string) error {
	flags := flag.NewFlagSet("scrape", flag.ExitOnError)
	workers := flags.Int("workers", cfg.Scraping.MaxWorkers, "max concurrent detail fetches")
	rateCount := flags.Int("rate", cfg.Scraping.RateLimit.Count, "requests per rate period")
	backup := flags.Bool("backup", cfg.Database.AutoBackup, "write a JSON backup after scraping")
	quiet := flags.Bool("quiet", false, "suppress the progress line")
	flags.Parse(args)

	if addr := cfg.Metrics.Addr; addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info().Str("addr", addr).Msg("Metrics listener started")
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error().Err(err).Msg("Metrics listener stopped")
			}
		}()
	}

	store, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	rate := ratelimit.Rate{Count: *rateCount, Period: cfg.Scraping.RateLimit.Period}
	limiter := ratelimit.New(rate)

	fetcher, err := client.New(limiter, client.Config{
		RequestTimeout: cfg.Scraping.RequestTimeout,
		MaxRetries:     cfg.Scraping.MaxRetries,
		RetryDelay:     cfg.Scraping.RetryDelay,
		MaxBackoff:     cfg.Scraping.MaxBackoff,
		MaxWorkers:     *workers,
		UserAgents:     cfg.Scraping.UserAgents,
	})
	if err != nil {
		return err
	}

	paginator := pagination.New(fetcher, pagination.Config{
		BaseURL:  cfg.Scraping.BaseURL,
		PageSize: cfg.Scraping.PageSize,
		MaxPages: cfg.Scraping.MaxPages,
		Params:   cfg.Scraping.ListingParams,
	})

	var cacheManager *cache.Manager
	if cfg.Cache.Enabled {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Cache.Addr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.Cache.Addr, err)
		}
		defer redisClient.Close()
		cacheManager = cache.NewManager(redisClient, cfg.Cache.TTL)
	}

	var progress scraper.ProgressFunc
	if !*quiet {
		progress = func(completed, total int, percentage float64, successCount int) {
			fmt.Printf("\rScraping: %d/%d (%.1f%%) ok=%d", completed, total, percentage, successCount)
			if completed == total {
				fmt.Println()
			}
		}
	}

	pipeline, err := scraper.NewPipeline(scraper.Deps{
		Paginator: paginator,
		Fetcher:   fetcher,
		Extractor: extract.New(cfg.Scraping.DetailURLTemplate),
		Limiter:   limiter,
		Store:     store,
		Cache:     cacheManager,
		Progress:  progress,
	}, scraper.Config{
		MaxWorkers: *workers,
		AutoBackup: *backup,
		BackupPath: cfg.Database.BackupPath,
	})
	if err != nil {
		return err
	}

	saved, runErr := pipeline.RunFullPipeline(ctx)

	stats := pipeline.GetSessionStatistics()
	if err := store.SaveSession(context.Background(), stats); err != nil {
		logger.Error().Err(err).Msg("Failed to save session record")
	}

	if runErr != nil {
		return runErr
	}

	fmt.Printf("Session %s: saved %d records (%d found, %d failed) in %.1fs\n",
		stats.SessionID, saved, stats.TotalFound, stats.Failed, stats.DurationSeconds)
	return nil
}

func runStats(ctx context.Context, cfg config.Config, args []string) error {
	flags := flag.NewFlagSet("stats", flag.ExitOnError)
	format := flags.String("format", "text", "output format: text or json")
	flags.Parse(args)

	store, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListAll(ctx)
	if err != nil {
		return err
	}
	report := analytics.BuildReport(records)

	if *format == "json" {
		return json.NewEncoder(os.Stdout).Encode(report)
	}
	fmt.Print(report.Render())
	return nil
}

func runQuery(ctx context.Context, cfg config.Config, args []string) error {
	flags := flag.NewFlagSet("query", flag.ExitOnError)
	country := flags.String("country", "", "comma-separated country keywords")
	topic := flags.String("topic", "", "comma-separated topic keywords")
	location := flags.String("location", "", "comma-separated location keywords")
	title := flags.String("title", "", "comma-separated title keywords")
	format := flags.String("format", "table", "output format: table or json")
	flags.Parse(args)

	store, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := store.Query(ctx, storage.Filter{
		Countries:        splitFlag(*country),
		Topics:           splitFlag(*topic),
		LocationKeywords: splitFlag(*location),
		TitleKeywords:    splitFlag(*title),
	})
	if err != nil {
		return err
	}

	if *format == "json" {
		return json.NewEncoder(os.Stdout).Encode(result.Opportunities)
	}

	fmt.Printf("%d of %d opportunities match (%.0fms)\n",
		result.FilteredCount, result.TotalCount, float64(result.QueryTime)/float64(time.Millisecond))
	for _, rec := range result.Opportunities {
		fmt.Printf("  %-8s %-50.50s %s\n", rec.Opid, rec.Title, rec.ActivityLocation)
	}
	return nil
}

func runDetails(ctx context.Context, cfg config.Config, args []string) error {
	flags := flag.NewFlagSet("details", flag.ExitOnError)
	flags.Parse(args)

	if flags.NArg() != 1 {
		return fmt.Errorf("usage: eyp-scraper details <opid>")
	}

	store, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.GetByOpid(ctx, flags.Arg(0))
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rec)
}

func runExport(ctx context.Context, cfg config.Config, args []string) error {
	flags := flag.NewFlagSet("export", flag.ExitOnError)
	out := flags.String("out", cfg.Database.BackupPath, "output JSON file")
	flags.Parse(args)

	store, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Backup(ctx, *out); err != nil {
		return err
	}
	fmt.Printf("Exported to %s\n", *out)
	return nil
}

// splitFlag turns "a,b" into trimmed non-empty parts.
func splitFlag(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
