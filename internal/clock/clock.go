// Package clock provides the monotonic millisecond clock the store stamps
// every row with, plus the busy-retry policy used around the single
// writer transaction described in the store's concurrency model.
package clock

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Clock returns the current time as milliseconds since the Unix epoch.
// Implementations must be monotonic from the caller's point of view:
// successive calls never go backwards.
type Clock interface {
	NowMs() int64
}

// System is the production Clock backed by time.Now().
type System struct{}

func (System) NowMs() int64 { return time.Now().UnixMilli() }

// Fixed is a deterministic Clock for tests; each call to NowMs advances
// by one millisecond so callers that stamp multiple rows in one
// transaction still observe a strictly increasing sequence.
type Fixed struct {
	ms int64
}

// NewFixed returns a Fixed clock starting at startMs.
func NewFixed(startMs int64) *Fixed {
	return &Fixed{ms: startMs}
}

func (f *Fixed) NowMs() int64 {
	f.ms++
	return f.ms
}

// BusyRetry runs op, retrying with exponential backoff while op returns an
// error matching isBusy. Used around the store's single writer-lock
// transaction so a transient SQLITE_BUSY from an overlapping reader does
// not surface to the caller as a hard failure.
func BusyRetry(ctx context.Context, isBusy func(error) bool, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isBusy(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}
