package scraper

import (
	"fmt"
	"sync"
	"testing"
)

func TestSession_CountersUnderConcurrency(t *testing.T) {
	session := NewSession()
	session.SetTotalFound(200)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			session.RecordSuccess()
		}()
		go func(i int) {
			defer wg.Done()
			session.RecordFailure(fmt.Sprintf("unit %d failed", i))
		}(i)
	}
	wg.Wait()

	stats := session.Statistics()
	if stats.Succeeded != 100 {
		t.Errorf("Succeeded = %d, want 100", stats.Succeeded)
	}
	if stats.Failed != 100 {
		t.Errorf("Failed = %d, want 100", stats.Failed)
	}
	if stats.ErrorsCount != 100 {
		t.Errorf("ErrorsCount = %d, want 100", stats.ErrorsCount)
	}
	if stats.SuccessRatePercent != 50 {
		t.Errorf("SuccessRatePercent = %v, want 50", stats.SuccessRatePercent)
	}
}

func TestSession_LastErrorsCapped(t *testing.T) {
	session := NewSession()
	for i := 0; i < 25; i++ {
		session.RecordFailure(fmt.Sprintf("error %d", i))
	}

	stats := session.Statistics()
	if len(stats.LastErrors) != 10 {
		t.Fatalf("LastErrors length = %d, want 10", len(stats.LastErrors))
	}
	if stats.LastErrors[9] != "error 24" {
		t.Errorf("LastErrors[9] = %q, want the most recent error", stats.LastErrors[9])
	}
	if stats.ErrorsCount != 25 {
		t.Errorf("ErrorsCount = %d, want full count 25", stats.ErrorsCount)
	}
}

func TestSession_ResetFailuresKeepsErrors(t *testing.T) {
	session := NewSession()
	session.RecordFailure("first pass failure")
	session.ResetFailures()

	if got := session.FailedCount(); got != 0 {
		t.Errorf("FailedCount after reset = %d, want 0", got)
	}
	if stats := session.Statistics(); stats.ErrorsCount != 1 {
		t.Errorf("ErrorsCount after reset = %d, want errors preserved", stats.ErrorsCount)
	}
}

func TestSession_FinalizeStampsEndTime(t *testing.T) {
	session := NewSession()
	session.Finalize(StatusFailed)

	stats := session.Statistics()
	if stats.Status != StatusFailed {
		t.Errorf("Status = %s, want failed", stats.Status)
	}
	if stats.EndTime.IsZero() {
		t.Error("EndTime should be stamped")
	}
	if stats.DurationSeconds < 0 {
		t.Errorf("DurationSeconds = %v, want non-negative", stats.DurationSeconds)
	}
}

func TestSession_ZeroFoundAvoidsDivisionByZero(t *testing.T) {
	session := NewSession()
	stats := session.Statistics()
	if stats.SuccessRatePercent != 0 {
		t.Errorf("SuccessRatePercent = %v, want 0 when nothing was found", stats.SuccessRatePercent)
	}
}
