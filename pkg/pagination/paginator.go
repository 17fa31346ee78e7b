// Package pagination walks the portal's listing endpoint with an offset
// cursor and accumulates summary entries until the first empty page.
// Pagination is strictly sequential: each page's offset depends on the
// previous page having been fetched.
package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/oppwatch/eyp-scraper/pkg/logging"
)

// Prometheus metrics for pagination.
var (
	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eyp_listing_pages_fetched_total",
		Help: "Total listing pages fetched",
	})

	summariesFoundTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eyp_listing_summaries_found_total",
		Help: "Total summary entries discovered by pagination",
	})
)

// ErrPageCapReached signals that the defensive page cap truncated the
// listing before a natural empty page was seen.
var ErrPageCapReached = errors.New("listing page cap reached")

// Summary is one listing entry: the opportunity identifier plus whatever
// raw payload the listing carried. It lives only between pagination and
// the detail fetch.
type Summary struct {
	Opid   string
	Source map[string]any
}

// Title returns the listing title, if the payload carried one.
func (s Summary) Title() string {
	if v, ok := s.Source["title"].(string); ok {
		return v
	}
	return ""
}

// Fetcher is the single-request dependency of the paginator.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, params url.Values) (string, error)
}

// Config holds paginator configuration.
type Config struct {
	// BaseURL is the listing search endpoint.
	BaseURL string

	// PageSize is the `size` query parameter per page.
	PageSize int

	// MaxPages is a defensive cap; 0 disables it.
	MaxPages int

	// Params are static filter parameters sent with every page.
	Params map[string]string
}

// Paginator fetches all listing pages sequentially.
type Paginator struct {
	fetcher Fetcher
	config  Config
	logger  zerolog.Logger
}

// New creates a paginator over the given fetcher.
func New(fetcher Fetcher, cfg Config) *Paginator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &Paginator{
		fetcher: fetcher,
		config:  cfg,
		logger:  logging.NewLogger("paginator"),
	}
}

// FetchAll walks the listing from offset 0 until the first empty page.
// On a fetch or parse failure it returns everything accumulated so far
// together with the error, so the caller can record the truncation; a
// complete walk returns a nil error.
func (p *Paginator) FetchAll(ctx context.Context) ([]Summary, error) {
	var summaries []Summary
	from := 0
	pages := 0

	for {
		if p.config.MaxPages > 0 && pages >= p.config.MaxPages {
			p.logger.Warn().
				Int("pages", pages).
				Int("summaries", len(summaries)).
				Msg("Listing page cap reached, truncating pagination")
			return summaries, fmt.Errorf("%w after %d pages", ErrPageCapReached, pages)
		}

		params := url.Values{}
		for key, value := range p.config.Params {
			params.Set(key, value)
		}
		params.Set("from", strconv.Itoa(from))
		params.Set("size", strconv.Itoa(p.config.PageSize))

		body, err := p.fetcher.Fetch(ctx, p.config.BaseURL, params)
		if err != nil {
			p.logger.Error().
				Err(err).
				Int("from", from).
				Msg("Listing fetch failed, halting pagination")
			return summaries, fmt.Errorf("pagination halted at from=%d: %w", from, err)
		}
		pagesFetchedTotal.Inc()
		pages++

		batch, err := parseListing(body)
		if err != nil {
			p.logger.Error().
				Err(err).
				Int("from", from).
				Msg("Listing response unparseable, halting pagination")
			return summaries, fmt.Errorf("pagination halted at from=%d: %w", from, err)
		}

		if len(batch) == 0 {
			p.logger.Info().
				Int("total", len(summaries)).
				Int("pages", pages).
				Msg("Pagination complete")
			return summaries, nil
		}

		summaries = append(summaries, batch...)
		summariesFoundTotal.Add(float64(len(batch)))
		from += p.config.PageSize

		p.logger.Debug().
			Int("batch", len(batch)).
			Int("total", len(summaries)).
			Int("next_from", from).
			Msg("Listing page fetched")
	}
}

// parseListing extracts summaries from one listing response body.
// The portal wraps results as hits.hits[]._source.
func parseListing(body string) ([]Summary, error) {
	var response struct {
		Hits struct {
			Hits []struct {
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}

	decoder := json.NewDecoder(strings.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&response); err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}

	batch := make([]Summary, 0, len(response.Hits.Hits))
	for _, hit := range response.Hits.Hits {
		batch = append(batch, Summary{
			Opid:   normalizeOpid(hit.Source["opid"]),
			Source: hit.Source,
		})
	}
	return batch, nil
}

// normalizeOpid renders the identifier as a string; the portal sends it
// both as a number and as a string depending on the index version.
func normalizeOpid(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(value)
	case json.Number:
		return value.String()
	default:
		return fmt.Sprintf("%v", value)
	}
}
