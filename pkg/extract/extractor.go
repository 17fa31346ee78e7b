// Package extract parses opportunity detail pages into structured records.
// Extraction is declarative: a fixed map from section heading labels to
// record fields; a missing heading yields the NotFound sentinel rather
// than an absent field.
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/oppwatch/eyp-scraper/pkg/logging"
	"github.com/oppwatch/eyp-scraper/pkg/opportunity"
	"github.com/oppwatch/eyp-scraper/pkg/pagination"
)

// sectionMappings binds the portal's h6 heading labels to record fields.
var sectionMappings = map[string]string{
	"Description": "description",
	"Accommodation, food and transport arrangements": "accommodation_food_transport",
	"Participant profile":                            "participant_profile",
	"Activity dates":                                 "activity_dates",
	"Activity location":                              "activity_location",
	"Looking for participants from":                  "looking_for_participants_from",
	"Activity topics":                                "activity_topics",
	"Deadline for applications":                      "application_deadline",
}

// Extractor turns fetched detail documents into validated records.
type Extractor struct {
	detailURLTemplate string
	logger            zerolog.Logger
}

// New creates an extractor; the template receives the opid via %s.
func New(detailURLTemplate string) *Extractor {
	return &Extractor{
		detailURLTemplate: detailURLTemplate,
		logger:            logging.NewLogger("extractor"),
	}
}

// DetailURL builds the detail page URL for a summary.
func (e *Extractor) DetailURL(opid string) string {
	return fmt.Sprintf(e.detailURLTemplate, opid)
}

// Extract parses one detail document. The summary must carry an opid;
// the title falls back to the listing payload when the page lacks one.
func (e *Extractor) Extract(body string, summary pagination.Summary) (opportunity.Record, error) {
	if summary.Opid == "" {
		return opportunity.Record{}, fmt.Errorf("summary has no opid, cannot produce a record")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return opportunity.Record{}, fmt.Errorf("parse detail document for %s: %w", summary.Opid, err)
	}

	title := strings.TrimSpace(doc.Find("h1.od-title").First().Text())
	if title == "" {
		title = summary.Title()
	}

	sections := make(map[string]string, len(sectionMappings))
	for label, field := range sectionMappings {
		if content := sectionContent(doc, label); content != "" {
			sections[field] = content
		}
	}

	record, err := opportunity.NewRecord(summary.Opid, title, e.DetailURL(summary.Opid), sections)
	if err != nil {
		return opportunity.Record{}, err
	}

	e.logger.Debug().
		Str("opid", record.Opid).
		Int("sections", len(sections)).
		Msg("Extracted record")
	return record, nil
}

// sectionContent finds the h6 heading matching label and returns the text
// of the immediately following paragraph. Empty string when the heading
// (or its content block) is absent.
func sectionContent(doc *goquery.Document, label string) string {
	var content string

	doc.Find("h6").EachWithBreak(func(_ int, heading *goquery.Selection) bool {
		if strings.TrimSpace(heading.Text()) != label {
			return true
		}

		paragraph := heading.NextAllFiltered("p").First()
		if paragraph.Length() == 0 {
			paragraph = heading.Parent().NextAllFiltered("p").First()
		}
		content = strings.TrimSpace(paragraph.Text())
		return false
	})

	return content
}
