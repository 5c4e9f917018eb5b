// internal/pacing/pacing.go

// Package pacing holds the send-rate laws of the dispatch engine: the linear
// delay schedule that spreads a campaign evenly over its horizon, the retry
// backoff curve, and the global minute-window governor.
package pacing

import "time"

const (
	// DefaultMessagesPerMinute is the default send ceiling.
	DefaultMessagesPerMinute = 20

	// MaxAttempts is how many delivery attempts a job gets before its
	// record is marked failed.
	MaxAttempts = 3

	// backoffBase is the first retry delay; each further attempt doubles it.
	backoffBase = 5 * time.Second
)

// Horizon is the total time a campaign of the given size is spread across
// under the configured ceiling: ceil(total/perMinute) minutes.
func Horizon(total, perMinute int) time.Duration {
	if total <= 0 || perMinute <= 0 {
		return 0
	}
	minutes := (total + perMinute - 1) / perMinute
	return time.Duration(minutes) * time.Minute
}

// Delay is the linear pacing law: job index out of total gets
// index * horizon/total, so consecutive jobs are evenly spaced rather than
// bursty. index is zero-based.
func Delay(total, perMinute, index int) time.Duration {
	if total <= 0 || index <= 0 {
		return 0
	}
	horizon := Horizon(total, perMinute)
	return time.Duration(int64(index) * int64(horizon) / int64(total))
}

// Backoff is the retry curve for transient transport failures: 5s, 10s, 20s.
// attempt is one-based (the attempt that just failed).
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}
