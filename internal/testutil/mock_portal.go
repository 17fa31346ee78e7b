// Package testutil provides a configurable mock of the youth portal for
// tests: a listing search endpoint plus per-opportunity detail pages.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for one mocked endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockPortal serves a paged listing API and detail pages the way the
// portal does, with request tracking for concurrency assertions.
type MockPortal struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	listing  []map[string]any

	requestCount int
	inFlight     int
	peakInFlight int
}

// ListingPath is the mocked search endpoint path.
const ListingPath = "/api/opportunities"

// DetailPathPrefix prefixes every mocked detail page path.
const DetailPathPrefix = "/en/solidarity/opportunity/"

// NewMockPortal starts the server with an empty listing.
func NewMockPortal() *MockPortal {
	mock := &MockPortal{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.inFlight++
		if mock.inFlight > mock.peakInFlight {
			mock.peakInFlight = mock.inFlight
		}
		mock.mu.Unlock()

		defer func() {
			mock.mu.Lock()
			mock.inFlight--
			mock.mu.Unlock()
		}()

		if r.URL.Path == ListingPath {
			mock.serveListing(w, r)
			return
		}

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		http.NotFound(w, r)
	}))

	return mock
}

// URL returns the mock server base URL.
func (m *MockPortal) URL() string {
	return m.server.URL
}

// ListingURL returns the full search endpoint URL.
func (m *MockPortal) ListingURL() string {
	return m.server.URL + ListingPath
}

// DetailURLTemplate returns the detail URL template with a %s opid slot.
func (m *MockPortal) DetailURLTemplate() string {
	return m.server.URL + DetailPathPrefix + "%s_en"
}

// Close shuts down the mock server.
func (m *MockPortal) Close() {
	m.server.Close()
}

// AddOpportunity registers one opid in the listing and serves a detail
// page with the given sections (heading label to paragraph text). The
// listing endpoint pages the registered entries by the request's own
// from/size parameters.
func (m *MockPortal) AddOpportunity(opid, title string, sections map[string]string) {
	m.mu.Lock()
	m.listing = append(m.listing, map[string]any{
		"opid":  opid,
		"title": title,
	})
	m.mu.Unlock()

	m.SetDetailResponse(opid, MockResponse{
		StatusCode: http.StatusOK,
		Body:       DetailPage(title, sections),
	})
}

// SetDetailResponse configures the detail endpoint for one opid.
func (m *MockPortal) SetDetailResponse(opid string, resp MockResponse) {
	m.SetHandler(DetailPathPrefix+opid+"_en", func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// FailDetailOnce makes the detail endpoint return the given status for
// the first n requests, then behave normally.
func (m *MockPortal) FailDetailOnce(opid, title string, status int, n int) {
	var mu sync.Mutex
	served := 0

	m.SetHandler(DetailPathPrefix+opid+"_en", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		served++
		failing := served <= n
		mu.Unlock()

		if failing {
			w.WriteHeader(status)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(DetailPage(title, nil)))
	})
}

// SetHandler sets a custom handler for a specific path.
func (m *MockPortal) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// RequestCount returns the number of requests made to the server.
func (m *MockPortal) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// PeakInFlight returns the highest number of concurrently served requests.
func (m *MockPortal) PeakInFlight() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peakInFlight
}

// serveListing pages the registered opportunities by the request's own
// from/size parameters, in the portal's hits wrapper.
func (m *MockPortal) serveListing(w http.ResponseWriter, r *http.Request) {
	from, _ := strconv.Atoi(r.URL.Query().Get("from"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	if size <= 0 {
		size = 100
	}

	m.mu.RLock()
	all := append([]map[string]any(nil), m.listing...)
	m.mu.RUnlock()

	var batch []map[string]any
	if from < len(all) {
		end := from + size
		if end > len(all) {
			end = len(all)
		}
		batch = all[from:end]
	}

	hits := make([]map[string]any, 0, len(batch))
	for _, source := range batch {
		hits = append(hits, map[string]any{"_source": source})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"hits": map[string]any{"hits": hits},
	})
}

// DetailPage renders a detail document with the portal's title and
// section markup.
func DetailPage(title string, sections map[string]string) string {
	body := fmt.Sprintf(`<html><body><h1 class="od-title">%s</h1>`, title)
	for label, content := range sections {
		body += fmt.Sprintf("<h6>%s</h6><p>%s</p>", label, content)
	}
	return body + "</body></html>"
}

// RateLimitResponse creates a 429 Too Many Requests detail response.
func RateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
	}
}

// ServerErrorResponse creates a 500 Internal Server Error detail response.
func ServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
	}
}
