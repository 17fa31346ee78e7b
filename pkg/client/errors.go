package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the fetcher.
var (
	// ErrRetryExhausted is returned when all fetch attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

// ErrorClass represents a classification of fetch failures.
type ErrorClass string

const (
	// ErrorClassRateLimit represents HTTP 429 responses from the portal.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassTimeout represents request timeouts.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassNetwork represents other transport errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassRemote represents terminal non-200 responses.
	ErrorClassRemote ErrorClass = "remote"
)

// FetchError carries the classification and context of a failed fetch.
type FetchError struct {
	URL        string
	StatusCode int
	Class      ErrorClass
	Attempts   int
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s error (status %d) after %d attempt(s)",
			e.URL, e.Class, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("fetch %s: %s error after %d attempt(s): %v",
		e.URL, e.Class, e.Attempts, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a failure class is worth another attempt
// within the same fetch call. Non-200 responses other than 429 are
// terminal: the portal gave a definitive answer.
func Retryable(class ErrorClass) bool {
	switch class {
	case ErrorClassRateLimit, ErrorClassTimeout, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
