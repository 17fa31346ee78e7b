package scraper

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status enumerates the lifecycle of one pipeline run.
type Status string

const (
	// StatusRunning marks a session whose pipeline has not returned yet.
	StatusRunning Status = "running"

	// StatusCompleted marks a finished run, regardless of per-record failures.
	StatusCompleted Status = "completed"

	// StatusFailed marks a run aborted by a pipeline-level error.
	StatusFailed Status = "failed"
)

// lastErrorsShown caps how many error entries Statistics exposes.
const lastErrorsShown = 10

// Session tracks run-scoped counters and errors for one pipeline
// execution. All mutation goes through its methods; the mutex makes
// concurrent increments from scheduler workers safe.
type Session struct {
	mu         sync.Mutex
	id         string
	startTime  time.Time
	endTime    time.Time
	totalFound int
	succeeded  int
	failed     int
	errors     []string
	status     Status
}

// NewSession creates a running session with a fresh identifier.
func NewSession() *Session {
	return &Session{
		id:        uuid.New().String(),
		startTime: time.Now(),
		status:    StatusRunning,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// SetTotalFound records how many summaries pagination discovered.
func (s *Session) SetTotalFound(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalFound = n
}

// RecordSuccess counts one successfully scraped record.
func (s *Session) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.succeeded++
}

// RecordFailure counts one failed unit and keeps its message.
func (s *Session) RecordFailure(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
	s.errors = append(s.errors, msg)
}

// RecordError appends a session-level error without touching the
// per-unit failure counter (e.g. pagination truncation).
func (s *Session) RecordError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, msg)
}

// ResetFailures zeroes the failure counter before the retry pass, so
// failures surviving the retry are counted exactly once. Error entries
// are kept.
func (s *Session) ResetFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = 0
}

// FailedCount returns the current failure counter.
func (s *Session) FailedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Finalize stamps the end time and terminal status.
func (s *Session) Finalize(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endTime = time.Now()
	s.status = status
}

// Statistics is the caller-facing session summary.
type Statistics struct {
	SessionID          string    `json:"session_id"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	DurationSeconds    float64   `json:"duration_seconds"`
	Status             Status    `json:"status"`
	TotalFound         int       `json:"total_found"`
	Succeeded          int       `json:"succeeded"`
	Failed             int       `json:"failed"`
	SuccessRatePercent float64   `json:"success_rate_percent"`
	ErrorsCount        int       `json:"errors_count"`
	LastErrors         []string  `json:"last_errors"`
}

// Statistics returns a consistent snapshot of the session.
func (s *Session) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Statistics{
		SessionID:   s.id,
		StartTime:   s.startTime,
		EndTime:     s.endTime,
		Status:      s.status,
		TotalFound:  s.totalFound,
		Succeeded:   s.succeeded,
		Failed:      s.failed,
		ErrorsCount: len(s.errors),
	}

	if !s.endTime.IsZero() {
		stats.DurationSeconds = s.endTime.Sub(s.startTime).Seconds()
	}

	total := s.totalFound
	if total < 1 {
		total = 1
	}
	stats.SuccessRatePercent = float64(s.succeeded) / float64(total) * 100

	start := len(s.errors) - lastErrorsShown
	if start < 0 {
		start = 0
	}
	stats.LastErrors = append([]string(nil), s.errors[start:]...)

	return stats
}
