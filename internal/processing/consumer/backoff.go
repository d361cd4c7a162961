package consumer

import "time"

// FixedBackoff retries a failed handler a bounded number of times with a
// constant wait between tries.
type FixedBackoff struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultBackoff returns 1s x 5.
func DefaultBackoff() FixedBackoff {
	return FixedBackoff{Interval: time.Second, MaxAttempts: 5}
}

// GetDelay returns the wait before the given retry (0-indexed).
func (b FixedBackoff) GetDelay(attempt int) time.Duration {
	return b.Interval
}

// ShouldRetry reports whether another local try is allowed after attempt tries.
func (b FixedBackoff) ShouldRetry(attempt int) bool {
	return attempt < b.MaxAttempts
}
