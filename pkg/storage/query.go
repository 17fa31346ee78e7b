package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/oppwatch/eyp-scraper/pkg/opportunity"
)

// Filter selects opportunities by substring match. Keywords within one
// field are OR-combined; distinct fields are AND-combined. An empty
// filter matches everything.
type Filter struct {
	Countries           []string
	Topics              []string
	LocationKeywords    []string
	TitleKeywords       []string
	DescriptionKeywords []string
}

// Result carries the filtered records plus query bookkeeping.
type Result struct {
	Opportunities []opportunity.Record
	TotalCount    int
	FilteredCount int
	QueryTime     time.Duration
}

// Query runs a filtered search over the stored opportunities.
func (s *Store) Query(ctx context.Context, filter Filter) (Result, error) {
	start := time.Now()

	total, err := s.Count(ctx)
	if err != nil {
		return Result{}, err
	}

	builder := selectRecords().OrderBy("opid")
	builder = applyKeywords(builder, "looking_for_participants_from", filter.Countries)
	builder = applyKeywords(builder, "activity_topics", filter.Topics)
	builder = applyKeywords(builder, "activity_location", filter.LocationKeywords)
	builder = applyKeywords(builder, "title", filter.TitleKeywords)
	builder = applyKeywords(builder, "description", filter.DescriptionKeywords)

	query, args, err := builder.ToSql()
	if err != nil {
		return Result{}, fmt.Errorf("build filter query: %w", err)
	}

	records, err := s.queryRecords(ctx, query, args)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Opportunities: records,
		TotalCount:    total,
		FilteredCount: len(records),
		QueryTime:     time.Since(start),
	}, nil
}

// applyKeywords adds an OR group of case-insensitive substring matches
// over one column. SQLite's LIKE is case-insensitive for ASCII.
func applyKeywords(builder sq.SelectBuilder, column string, keywords []string) sq.SelectBuilder {
	if len(keywords) == 0 {
		return builder
	}

	or := make(sq.Or, 0, len(keywords))
	for _, keyword := range keywords {
		or = append(or, sq.Like{column: "%" + keyword + "%"})
	}
	return builder.Where(or)
}
