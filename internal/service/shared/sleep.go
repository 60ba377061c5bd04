// Package shared provides the cancellation-aware waits used by the
// connection retry loop and the simulated reader.
package shared

import (
	"context"
	"time"
)

// DelayFor returns the override for step when one is set and positive,
// otherwise def.
func DelayFor(overrides map[string]time.Duration, step string, def time.Duration) time.Duration {
	if d, ok := overrides[step]; ok && d > 0 {
		return d
	}
	return def
}

// SleepOrDone waits for the duration or returns early on context cancellation.
// A non-positive duration returns immediately.
func SleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait is SleepOrDone that also fails fast on a context that is already
// done, even for a zero duration.
func Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return SleepOrDone(ctx, d)
}
