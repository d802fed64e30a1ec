package bucket

import (
	"context"
	"sync"
	"time"
)

// InMemory is a per-process sliding window. It backs single-instance
// deployments and serves as the fallback while Redis is unreachable.
type InMemory struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{windows: make(map[string][]time.Time), now: time.Now}
}

// WithClock replaces the time source; tests only.
func (s *InMemory) WithClock(now func() time.Time) *InMemory {
	s.now = now
	return s
}

func (s *InMemory) Allow(_ context.Context, key string, limit int, window time.Duration) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stamps := prune(s.windows[key], now.Add(-window))

	if len(stamps) < limit {
		stamps = append(stamps, now)
		s.windows[key] = stamps
		return &Result{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - len(stamps),
			ResetAt:   stamps[0].Add(window),
		}, nil
	}

	s.windows[key] = stamps
	resetAt := now.Add(window)
	if len(stamps) > 0 {
		resetAt = stamps[0].Add(window)
	}
	return &Result{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retryAfter(now, resetAt),
	}, nil
}

// Reset drops the window for key.
func (s *InMemory) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// prune drops stamps at or before cutoff. stamps is sorted.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(stamps); i++ {
		if stamps[i].After(cutoff) {
			break
		}
	}
	return stamps[i:]
}
