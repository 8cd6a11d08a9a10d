package governor

import (
	"context"
	"time"
)

// Clock abstracts time so window and date-rollover behaviour can be driven
// deterministically in tests.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock in the process's local time zone.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// dateKey is the calendar date used for the daily quota, in the clock's
// local zone.
func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
