// Package analytics summarizes the stored opportunity corpus: country
// and topic frequency, co-occurrence pairs, and location breakdowns.
package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oppwatch/eyp-scraper/pkg/opportunity"
)

const (
	topCountries = 15
	topTopics    = 20
	topPairs     = 10
	topLocations = 10
)

// Entry is one ranked item in a frequency table.
type Entry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Report aggregates the corpus for the stats command and exports.
type Report struct {
	TotalOpportunities int     `json:"total_opportunities"`
	CountryFrequency   []Entry `json:"country_frequency"`
	CountryPairs       []Entry `json:"country_pairs"`
	TopicFrequency     []Entry `json:"topic_frequency"`
	TopicPairs         []Entry `json:"topic_pairs"`
	LocationFrequency  []Entry `json:"location_frequency"`
	AvgTopicsPerRecord float64 `json:"avg_topics_per_record"`
	RecentAdditions    int     `json:"recent_additions"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// BuildReport computes a report over the given records. Recent means
// scraped within the last seven days.
func BuildReport(records []opportunity.Record) Report {
	report := Report{
		TotalOpportunities: len(records),
		GeneratedAt:        time.Now().UTC(),
	}

	countries := make(map[string]int)
	countryPairs := make(map[string]int)
	topics := make(map[string]int)
	topicPairs := make(map[string]int)
	locations := make(map[string]int)

	totalTopics := 0
	weekAgo := time.Now().AddDate(0, 0, -7)

	for _, rec := range records {
		countItems(countries, rec.ParticipantCountries)
		countPairs(countryPairs, rec.ParticipantCountries)
		countItems(topics, rec.TopicsList)
		countPairs(topicPairs, rec.TopicsList)
		totalTopics += len(rec.TopicsList)

		if location := locationCountry(rec.ActivityLocation); location != "" {
			locations[location]++
		}
		if rec.ScrapedAt.After(weekAgo) {
			report.RecentAdditions++
		}
	}

	report.CountryFrequency = rank(countries, topCountries)
	report.CountryPairs = rank(countryPairs, topPairs)
	report.TopicFrequency = rank(topics, topTopics)
	report.TopicPairs = rank(topicPairs, topPairs)
	report.LocationFrequency = rank(locations, topLocations)

	if len(records) > 0 {
		report.AvgTopicsPerRecord = float64(totalTopics) / float64(len(records))
	}

	return report
}

// Render formats the report as a plain text summary.
func (r Report) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Opportunities: %d (recent: %d)\n", r.TotalOpportunities, r.RecentAdditions)
	fmt.Fprintf(&b, "Average topics per opportunity: %.1f\n", r.AvgTopicsPerRecord)

	renderTable(&b, "Top participant countries", r.CountryFrequency)
	renderTable(&b, "Top topics", r.TopicFrequency)
	renderTable(&b, "Top topic pairs", r.TopicPairs)
	renderTable(&b, "Top activity locations", r.LocationFrequency)

	return b.String()
}

func renderTable(b *strings.Builder, title string, entries []Entry) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, entry := range entries {
		fmt.Fprintf(b, "  %4d  %s\n", entry.Count, entry.Name)
	}
}

func countItems(freq map[string]int, items []string) {
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			freq[item]++
		}
	}
}

// countPairs counts unordered co-occurrence pairs within one record.
func countPairs(freq map[string]int, items []string) {
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			a, b := items[i], items[j]
			if b < a {
				a, b = b, a
			}
			freq[a+" + "+b]++
		}
	}
}

// locationCountry extracts the country from a "City, Country" location;
// a single-token location is taken as the country itself.
func locationCountry(location string) string {
	if location == "" || location == opportunity.NotFound {
		return ""
	}
	parts := strings.Split(location, ",")
	return strings.TrimSpace(parts[len(parts)-1])
}

// rank sorts a frequency map descending by count (name breaks ties) and
// keeps the top n entries.
func rank(freq map[string]int, n int) []Entry {
	entries := make([]Entry, 0, len(freq))
	for name, count := range freq {
		entries = append(entries, Entry{Name: name, Count: count})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Name < entries[j].Name
	})

	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
