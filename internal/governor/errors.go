package governor

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDailyQuotaExhausted is returned once the calendar-day cap is hit.
	// Callers must not retry before the date rolls over.
	ErrDailyQuotaExhausted = errors.New("daily quota exhausted")

	// ErrWindowExceeded marks a full trailing window. WaitForAvailability
	// absorbs it; Acquire reports it so non-blocking callers can back off.
	ErrWindowExceeded = errors.New("rate window exceeded")

	// ErrPersistenceUnavailable wraps any quota store read or write failure.
	ErrPersistenceUnavailable = errors.New("quota persistence unavailable")

	// ErrQuotaStateNotFound is returned by a store that has never been written.
	ErrQuotaStateNotFound = errors.New("quota state not found")
)

// QuotaError carries the counters observed when admission was refused.
type QuotaError struct {
	Type       string // "daily" | "window"
	DailyCalls int
	DailyLimit int
	ResetDate  string
	RetryAfter time.Duration // window only: time until the oldest call ages out
}

func (e *QuotaError) Error() string {
	if e.Type == "daily" {
		return fmt.Sprintf("daily quota exhausted: %d/%d calls on %s", e.DailyCalls, e.DailyLimit, e.ResetDate)
	}
	return fmt.Sprintf("rate window exceeded: retry in %v", e.RetryAfter)
}

func (e *QuotaError) Is(target error) bool {
	switch target {
	case ErrDailyQuotaExhausted:
		return e.Type == "daily"
	case ErrWindowExceeded:
		return e.Type == "window"
	}
	return false
}

// PersistenceError records which store operation failed.
type PersistenceError struct {
	Op    string // "load" | "save"
	Store string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s quota state via %s: %v", e.Op, e.Store, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistenceUnavailable
}
