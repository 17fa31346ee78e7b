// Package storage persists scraped opportunity records and session
// outcomes in SQLite. Records are keyed by opid and upserted, so
// repeated pipeline runs converge on the freshest scrape of each
// opportunity instead of accumulating duplicates.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/oppwatch/eyp-scraper/pkg/logging"
	"github.com/oppwatch/eyp-scraper/pkg/opportunity"
	"github.com/oppwatch/eyp-scraper/pkg/scraper"
)

// Prometheus metrics for persistence.
var (
	recordsUpsertedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eyp_records_upserted_total",
		Help: "Total opportunity records written to the database",
	})

	upsertErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eyp_record_upsert_errors_total",
		Help: "Total per-record upsert failures",
	})
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("opportunity not found")

const schema = `
CREATE TABLE IF NOT EXISTS opportunities (
	opid TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	url TEXT NOT NULL,
	description TEXT,
	accommodation_food_transport TEXT,
	participant_profile TEXT,
	activity_dates TEXT,
	activity_location TEXT,
	looking_for_participants_from TEXT,
	activity_topics TEXT,
	application_deadline TEXT,
	participant_countries TEXT,
	topics_list TEXT,
	scraped_at TEXT NOT NULL,
	last_updated TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scraping_sessions (
	session_id TEXT PRIMARY KEY,
	start_time TEXT NOT NULL,
	end_time TEXT,
	total_opportunities_found INTEGER NOT NULL DEFAULT 0,
	successful_scrapes INTEGER NOT NULL DEFAULT 0,
	failed_scrapes INTEGER NOT NULL DEFAULT 0,
	errors TEXT,
	status TEXT NOT NULL DEFAULT 'running'
);
`

// Store is the SQLite-backed repository for opportunities and sessions.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logger := logging.NewLogger("storage")
	logger.Info().Str("path", path).Msg("Database opened")

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertMany writes records in one transaction, inserting new opids and
// refreshing existing ones. A record that fails to encode is skipped and
// logged; the count of rows actually written is returned.
func (s *Store) UpsertMany(ctx context.Context, records []opportunity.Record) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	saved := 0
	for _, rec := range records {
		if err := s.upsertOne(ctx, tx, rec); err != nil {
			upsertErrorsTotal.Inc()
			s.logger.Error().Err(err).Str("opid", rec.Opid).Msg("Record upsert failed")
			continue
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	recordsUpsertedTotal.Add(float64(saved))
	s.logger.Info().Int("saved", saved).Int("offered", len(records)).Msg("Records persisted")
	return saved, nil
}

func (s *Store) upsertOne(ctx context.Context, tx *sql.Tx, rec opportunity.Record) error {
	countries, err := json.Marshal(rec.ParticipantCountries)
	if err != nil {
		return fmt.Errorf("encode countries for %s: %w", rec.Opid, err)
	}
	topics, err := json.Marshal(rec.TopicsList)
	if err != nil {
		return fmt.Errorf("encode topics for %s: %w", rec.Opid, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)

	query, args, err := sq.Insert("opportunities").
		Columns("opid", "title", "url",
			"description", "accommodation_food_transport", "participant_profile",
			"activity_dates", "activity_location", "looking_for_participants_from",
			"activity_topics", "application_deadline",
			"participant_countries", "topics_list",
			"scraped_at", "last_updated").
		Values(rec.Opid, rec.Title, rec.URL,
			rec.Description, rec.AccommodationFoodTransport, rec.ParticipantProfile,
			rec.ActivityDates, rec.ActivityLocation, rec.LookingForParticipantsFrom,
			rec.ActivityTopics, rec.ApplicationDeadline,
			string(countries), string(topics),
			rec.ScrapedAt.UTC().Format(time.RFC3339), now).
		Suffix(`ON CONFLICT(opid) DO UPDATE SET
			title = excluded.title,
			url = excluded.url,
			description = excluded.description,
			accommodation_food_transport = excluded.accommodation_food_transport,
			participant_profile = excluded.participant_profile,
			activity_dates = excluded.activity_dates,
			activity_location = excluded.activity_location,
			looking_for_participants_from = excluded.looking_for_participants_from,
			activity_topics = excluded.activity_topics,
			application_deadline = excluded.application_deadline,
			participant_countries = excluded.participant_countries,
			topics_list = excluded.topics_list,
			scraped_at = excluded.scraped_at,
			last_updated = excluded.last_updated`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert for %s: %w", rec.Opid, err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %s: %w", rec.Opid, err)
	}
	return nil
}

// GetByOpid returns one record, or ErrNotFound.
func (s *Store) GetByOpid(ctx context.Context, opid string) (opportunity.Record, error) {
	query, args, err := selectRecords().Where(sq.Eq{"opid": opid}).ToSql()
	if err != nil {
		return opportunity.Record{}, fmt.Errorf("build lookup: %w", err)
	}

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return opportunity.Record{}, fmt.Errorf("%w: %s", ErrNotFound, opid)
	}
	return rec, err
}

// Count returns the total number of stored opportunities.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM opportunities").Scan(&count); err != nil {
		return 0, fmt.Errorf("count opportunities: %w", err)
	}
	return count, nil
}

// CountScrapedSince returns how many records were scraped at or after the
// given instant.
func (s *Store) CountScrapedSince(ctx context.Context, since time.Time) (int, error) {
	query, args, err := sq.Select("COUNT(*)").
		From("opportunities").
		Where(sq.GtOrEq{"scraped_at": since.UTC().Format(time.RFC3339)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build recent count: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count recent opportunities: %w", err)
	}
	return count, nil
}

// ListAll returns every stored record ordered by opid.
func (s *Store) ListAll(ctx context.Context) ([]opportunity.Record, error) {
	query, args, err := selectRecords().OrderBy("opid").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}
	return s.queryRecords(ctx, query, args)
}

// Backup exports all records as an indented JSON array at path.
func (s *Store) Backup(ctx context.Context, path string) error {
	records, err := s.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("backup export: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create backup directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}

	s.logger.Info().Str("path", path).Int("records", len(records)).Msg("Database backed up")
	return nil
}

// SaveSession persists a finished session snapshot.
func (s *Store) SaveSession(ctx context.Context, stats scraper.Statistics) error {
	errorsJSON, err := json.Marshal(stats.LastErrors)
	if err != nil {
		return fmt.Errorf("encode session errors: %w", err)
	}

	var endTime any
	if !stats.EndTime.IsZero() {
		endTime = stats.EndTime.UTC().Format(time.RFC3339)
	}

	query, args, err := sq.Insert("scraping_sessions").
		Columns("session_id", "start_time", "end_time",
			"total_opportunities_found", "successful_scrapes", "failed_scrapes",
			"errors", "status").
		Values(stats.SessionID, stats.StartTime.UTC().Format(time.RFC3339), endTime,
			stats.TotalFound, stats.Succeeded, stats.Failed,
			string(errorsJSON), string(stats.Status)).
		Suffix(`ON CONFLICT(session_id) DO UPDATE SET
			end_time = excluded.end_time,
			total_opportunities_found = excluded.total_opportunities_found,
			successful_scrapes = excluded.successful_scrapes,
			failed_scrapes = excluded.failed_scrapes,
			errors = excluded.errors,
			status = excluded.status`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build session upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("save session %s: %w", stats.SessionID, err)
	}
	return nil
}

func (s *Store) queryRecords(ctx context.Context, query string, args []any) ([]opportunity.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query opportunities: %w", err)
	}
	defer rows.Close()

	var records []opportunity.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate opportunities: %w", err)
	}
	return records, nil
}

func selectRecords() sq.SelectBuilder {
	return sq.Select("opid", "title", "url",
		"description", "accommodation_food_transport", "participant_profile",
		"activity_dates", "activity_location", "looking_for_participants_from",
		"activity_topics", "application_deadline",
		"participant_countries", "topics_list", "scraped_at").
		From("opportunities")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (opportunity.Record, error) {
	var rec opportunity.Record
	var countries, topics, scrapedAt string

	err := row.Scan(&rec.Opid, &rec.Title, &rec.URL,
		&rec.Description, &rec.AccommodationFoodTransport, &rec.ParticipantProfile,
		&rec.ActivityDates, &rec.ActivityLocation, &rec.LookingForParticipantsFrom,
		&rec.ActivityTopics, &rec.ApplicationDeadline,
		&countries, &topics, &scrapedAt)
	if err != nil {
		return opportunity.Record{}, err
	}

	if err := json.Unmarshal([]byte(countries), &rec.ParticipantCountries); err != nil {
		return opportunity.Record{}, fmt.Errorf("decode countries for %s: %w", rec.Opid, err)
	}
	if err := json.Unmarshal([]byte(topics), &rec.TopicsList); err != nil {
		return opportunity.Record{}, fmt.Errorf("decode topics for %s: %w", rec.Opid, err)
	}
	if rec.ScrapedAt, err = time.Parse(time.RFC3339, scrapedAt); err != nil {
		return opportunity.Record{}, fmt.Errorf("parse scraped_at for %s: %w", rec.Opid, err)
	}

	return rec, nil
}
