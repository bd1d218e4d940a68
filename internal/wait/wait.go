// Package wait holds the one sleep primitive every blocking delay goes
// through, so pause, stop and shutdown latency is bounded by one wait step.
package wait

import (
	"context"
	"time"
)

// SleepFunc is the signature of Sleep; tests substitute a recorder.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep waits for d or until ctx is done, whichever comes first.
// It returns ctx.Err() when interrupted and nil otherwise.
func Sleep(ctx context.Context, d time.Duration) error {
	return Until(ctx, d, nil)
}

// Until is Sleep with an extra release channel: a receive or close on
// release ends the wait early and returns nil.
func Until(ctx context.Context, d time.Duration, release <-chan struct{}) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-release:
		return nil
	case <-t.C:
		return nil
	}
}
