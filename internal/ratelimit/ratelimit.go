// Package ratelimit caps how many orders a user may create within a
// trailing time window.
package ratelimit

import (
	"sync"
	"time"
)

// Defaults used when the limiter is built with zero values.
const (
	DefaultLimit  = 5
	DefaultWindow = time.Hour
)

// Limiter is a per-user sliding window counter. Rejected attempts are
// not recorded, so a user is admitted again as soon as the oldest
// admitted attempt leaves the window.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	seen   map[string][]time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter admitting at most limit attempts per window.
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		seen:   make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records an attempt for userID and reports whether it is admitted.
func (l *Limiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := prune(l.seen[userID], now.Add(-l.window))
	if len(kept) >= l.limit {
		l.seen[userID] = kept
		return false
	}
	l.seen[userID] = append(kept, now)
	return true
}

// Remaining returns how many more attempts userID may make right now.
func (l *Limiter) Remaining(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := prune(l.seen[userID], l.now().Add(-l.window))
	l.seen[userID] = kept
	return l.limit - len(kept)
}

// Reset forgets all attempts of userID.
func (l *Limiter) Reset(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, userID)
}

// prune drops timestamps at or before cutoff. Input is in ascending order.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}
