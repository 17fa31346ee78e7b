package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oppwatch/eyp-scraper/pkg/opportunity"
	"github.com/oppwatch/eyp-scraper/pkg/scraper"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "eyp.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testRecord(t *testing.T, opid, title string, sections map[string]string) opportunity.Record {
	t.Helper()

	rec, err := opportunity.NewRecord(opid, title, "https://portal.test/opportunity/"+opid+"_en", sections)
	if err != nil {
		t.Fatalf("NewRecord(%s) error = %v", opid, err)
	}
	return rec
}

func TestStore_UpsertAndLookup(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := testRecord(t, "90001", "Community garden", map[string]string{
		"description":                   "Help out at a community garden.",
		"activity_location":             "Lisbon, Portugal",
		"looking_for_participants_from": "Portugal, Spain, France",
		"activity_topics":               "Environment, Community",
	})

	saved, err := store.UpsertMany(ctx, []opportunity.Record{rec})
	if err != nil {
		t.Fatalf("UpsertMany() error = %v", err)
	}
	if saved != 1 {
		t.Fatalf("saved = %d, want 1", saved)
	}

	got, err := store.GetByOpid(ctx, "90001")
	if err != nil {
		t.Fatalf("GetByOpid() error = %v", err)
	}
	if got.Title != "Community garden" {
		t.Errorf("Title = %q", got.Title)
	}
	if got.ParticipantProfile != opportunity.NotFound {
		t.Errorf("ParticipantProfile = %q, want the sentinel for an absent section", got.ParticipantProfile)
	}
	if len(got.ParticipantCountries) != 3 || got.ParticipantCountries[0] != "Portugal" {
		t.Errorf("ParticipantCountries = %v", got.ParticipantCountries)
	}
	if len(got.TopicsList) != 2 {
		t.Errorf("TopicsList = %v", got.TopicsList)
	}
}

func TestStore_UpsertIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := testRecord(t, "90001", "Original title", nil)
	updated := testRecord(t, "90001", "Updated title", map[string]string{
		"description": "now with content",
	})

	for _, batch := range [][]opportunity.Record{{first}, {updated}} {
		if _, err := store.UpsertMany(ctx, batch); err != nil {
			t.Fatalf("UpsertMany() error = %v", err)
		}
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, want repeated upserts to keep one row", count)
	}

	got, err := store.GetByOpid(ctx, "90001")
	if err != nil {
		t.Fatalf("GetByOpid() error = %v", err)
	}
	if got.Title != "Updated title" {
		t.Errorf("Title = %q, want the second write to win", got.Title)
	}
	if got.Description != "now with content" {
		t.Errorf("Description = %q", got.Description)
	}
}

func TestStore_GetByOpidNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetByOpid(context.Background(), "99999")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByOpid() error = %v, want ErrNotFound", err)
	}
}

func TestStore_QueryFilters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	records := []opportunity.Record{
		testRecord(t, "90001", "Garden volunteering", map[string]string{
			"looking_for_participants_from": "Portugal, Spain",
			"activity_topics":               "Environment",
			"activity_location":             "Lisbon, Portugal",
		}),
		testRecord(t, "90002", "Youth theatre festival", map[string]string{
			"looking_for_participants_from": "Germany, Austria",
			"activity_topics":               "Culture, Arts",
			"activity_location":             "Vienna, Austria",
		}),
		testRecord(t, "90003", "Coastal cleanup", map[string]string{
			"looking_for_participants_from": "Spain, Italy",
			"activity_topics":               "Environment, Health",
			"activity_location":             "Valencia, Spain",
		}),
	}
	if _, err := store.UpsertMany(ctx, records); err != nil {
		t.Fatalf("UpsertMany() error = %v", err)
	}

	tests := []struct {
		name      string
		filter    Filter
		wantOpids []string
	}{
		{"no filter matches all", Filter{}, []string{"90001", "90002", "90003"}},
		{"single country", Filter{Countries: []string{"Germany"}}, []string{"90002"}},
		{"countries are or-combined", Filter{Countries: []string{"Portugal", "Italy"}}, []string{"90001", "90003"}},
		{"topic and location combine", Filter{
			Topics:           []string{"Environment"},
			LocationKeywords: []string{"Valencia"},
		}, []string{"90003"}},
		{"title keyword", Filter{TitleKeywords: []string{"theatre"}}, []string{"90002"}},
		{"case insensitive", Filter{Countries: []string{"spain"}}, []string{"90001", "90003"}},
		{"no match", Filter{Topics: []string{"Robotics"}}, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := store.Query(ctx, tc.filter)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}

			var opids []string
			for _, rec := range result.Opportunities {
				opids = append(opids, rec.Opid)
			}
			if len(opids) != len(tc.wantOpids) {
				t.Fatalf("Query() opids = %v, want %v", opids, tc.wantOpids)
			}
			for i := range opids {
				if opids[i] != tc.wantOpids[i] {
					t.Errorf("Query() opids = %v, want %v", opids, tc.wantOpids)
					break
				}
			}

			if result.TotalCount != 3 {
				t.Errorf("TotalCount = %d, want 3", result.TotalCount)
			}
			if result.FilteredCount != len(tc.wantOpids) {
				t.Errorf("FilteredCount = %d, want %d", result.FilteredCount, len(tc.wantOpids))
			}
		})
	}
}

func TestStore_BackupWritesJSON(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := testRecord(t, "90001", "Community garden", nil)
	if _, err := store.UpsertMany(ctx, []opportunity.Record{rec}); err != nil {
		t.Fatalf("UpsertMany() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "backups", "opportunities.json")
	if err := store.Backup(ctx, path); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	body := string(data)
	if !strings.Contains(body, `"opid": "90001"`) {
		t.Errorf("backup missing record, got: %s", body)
	}
	if !strings.HasPrefix(strings.TrimSpace(body), "[") {
		t.Errorf("backup should be a JSON array, got: %.40s", body)
	}
}

func TestStore_CountScrapedSince(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := testRecord(t, "90001", "Fresh", nil)
	if _, err := store.UpsertMany(ctx, []opportunity.Record{rec}); err != nil {
		t.Fatalf("UpsertMany() error = %v", err)
	}

	recent, err := store.CountScrapedSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountScrapedSince() error = %v", err)
	}
	if recent != 1 {
		t.Errorf("recent = %d, want 1", recent)
	}

	none, err := store.CountScrapedSince(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("CountScrapedSince() error = %v", err)
	}
	if none != 0 {
		t.Errorf("future cutoff count = %d, want 0", none)
	}
}

func TestStore_SaveSession(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	stats := scraper.Statistics{
		SessionID:  "sess-1",
		StartTime:  time.Now().Add(-time.Minute),
		EndTime:    time.Now(),
		Status:     scraper.StatusCompleted,
		TotalFound: 10,
		Succeeded:  9,
		Failed:     1,
		LastErrors: []string{"scrape 90004: connection reset"},
	}

	if err := store.SaveSession(ctx, stats); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	// A second save of the same session updates in place.
	stats.Succeeded = 10
	stats.Failed = 0
	if err := store.SaveSession(ctx, stats); err != nil {
		t.Fatalf("SaveSession() second write error = %v", err)
	}

	var count, succeeded int
	row := store.db.QueryRow("SELECT COUNT(*), MAX(successful_scrapes) FROM scraping_sessions")
	if err := row.Scan(&count, &succeeded); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if count != 1 {
		t.Errorf("session rows = %d, want 1", count)
	}
	if succeeded != 10 {
		t.Errorf("successful_scrapes = %d, want the updated value", succeeded)
	}
}
