// Package opportunity defines the core domain model: a fully scraped
// solidarity opportunity record.
package opportunity

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// NotFound marks a section that the detail page does not contain.
// It is deliberately a value, not an absent field: a record that went
// through extraction always carries every section.
const NotFound = "N/A"

// Record is the immutable result of scraping one opportunity detail page.
type Record struct {
	Opid  string `json:"opid"`
	Title string `json:"title"`
	URL   string `json:"url"`

	Description                string `json:"description"`
	AccommodationFoodTransport string `json:"accommodation_food_transport"`
	ParticipantProfile         string `json:"participant_profile"`
	ActivityDates              string `json:"activity_dates"`
	ActivityLocation           string `json:"activity_location"`
	LookingForParticipantsFrom string `json:"looking_for_participants_from"`
	ActivityTopics             string `json:"activity_topics"`
	ApplicationDeadline        string `json:"application_deadline"`

	ParticipantCountries []string `json:"participant_countries"`
	TopicsList           []string `json:"topics_list"`

	ScrapedAt time.Time `json:"scraped_at"`
}

// NewRecord validates invariants and derives the parsed country/topic lists.
// Opid and URL are mandatory; every section field defaults to NotFound.
func NewRecord(opid, title, rawURL string, sections map[string]string) (Record, error) {
	opid = strings.TrimSpace(opid)
	if opid == "" {
		return Record{}, fmt.Errorf("record requires a non-empty opid")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Record{}, fmt.Errorf("record %s: invalid url %q: %w", opid, rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Record{}, fmt.Errorf("record %s: url %q must be http(s)", opid, rawURL)
	}

	if strings.TrimSpace(title) == "" {
		title = NotFound
	}

	rec := Record{
		Opid:                       opid,
		Title:                      strings.TrimSpace(title),
		URL:                        rawURL,
		Description:                sectionOrNotFound(sections, "description"),
		AccommodationFoodTransport: sectionOrNotFound(sections, "accommodation_food_transport"),
		ParticipantProfile:         sectionOrNotFound(sections, "participant_profile"),
		ActivityDates:              sectionOrNotFound(sections, "activity_dates"),
		ActivityLocation:           sectionOrNotFound(sections, "activity_location"),
		LookingForParticipantsFrom: sectionOrNotFound(sections, "looking_for_participants_from"),
		ActivityTopics:             sectionOrNotFound(sections, "activity_topics"),
		ApplicationDeadline:        sectionOrNotFound(sections, "application_deadline"),
		ScrapedAt:                  time.Now().UTC(),
	}

	rec.ParticipantCountries = splitList(rec.LookingForParticipantsFrom)
	rec.TopicsList = splitList(rec.ActivityTopics)

	return rec, nil
}

func sectionOrNotFound(sections map[string]string, key string) string {
	if v, ok := sections[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return NotFound
}

// splitList parses comma-separated source text into a clean slice.
// The NotFound sentinel yields an empty list.
func splitList(value string) []string {
	if value == "" || value == NotFound {
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
