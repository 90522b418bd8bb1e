// Package clock abstracts time and delays so components that expire
// records or back off between retries can be tested deterministically.
package clock

import (
	"context"
	"time"
)

// Clock is a monotonic-enough time source for TTL checks.
// Implementations must be safe for concurrent use.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// Sleeper delays the calling goroutine without blocking others.
// Implementations must be safe for concurrent use.
type Sleeper interface {
	// Sleep waits for the given duration or until the context is done,
	// whichever comes first. Returns the context error on early wake-up.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock uses the system time in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// SystemSleeper waits on a timer.
type SystemSleeper struct{}

// Sleep blocks for d, waking early if ctx is cancelled.
func (SystemSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
