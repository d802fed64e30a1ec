// Package bucket implements sliding-window request counters.
package bucket

import "time"

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is in whole seconds; zero when Allowed.
	RetryAfter int
}

func retryAfter(now, resetAt time.Time) int {
	d := resetAt.Sub(now)
	if d <= 0 {
		return 1
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
