package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestAllowCeiling(t *testing.T) {
	t.Parallel()

	clock := newClock()
	l := New(5, time.Hour, WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow("u1"), "attempt %d", i+1)
		clock.Advance(time.Minute)
	}
	assert.False(t, l.Allow("u1"), "sixth attempt within the window must be rejected")
	assert.True(t, l.Allow("u2"), "other users are unaffected")
	assert.Equal(t, 0, l.Remaining("u1"))
}

func TestAllowWindowSlides(t *testing.T) {
	t.Parallel()

	clock := newClock()
	l := New(2, time.Hour, WithClock(clock.Now))

	require.True(t, l.Allow("u"))
	clock.Advance(30 * time.Minute)
	require.True(t, l.Allow("u"))
	require.False(t, l.Allow("u"))

	// First attempt leaves the window; exactly one slot frees up.
	clock.Advance(30*time.Minute + time.Second)
	assert.True(t, l.Allow("u"))
	assert.False(t, l.Allow("u"))
}

func TestRejectedAttemptsAreNotRecorded(t *testing.T) {
	t.Parallel()

	clock := newClock()
	l := New(1, time.Hour, WithClock(clock.Now))

	require.True(t, l.Allow("u"))
	for i := 0; i < 10; i++ {
		clock.Advance(time.Minute)
		require.False(t, l.Allow("u"))
	}
	clock.Advance(51 * time.Minute)
	assert.True(t, l.Allow("u"))
}

func TestReset(t *testing.T) {
	t.Parallel()

	l := New(1, time.Hour)
	require.True(t, l.Allow("u"))
	require.False(t, l.Allow("u"))
	l.Reset("u")
	assert.True(t, l.Allow("u"))
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	l := New(0, 0)
	assert.Equal(t, DefaultLimit, l.limit)
	assert.Equal(t, DefaultWindow, l.window)
}

func TestAllowConcurrent(t *testing.T) {
	t.Parallel()

	l := New(5, time.Hour)
	const goroutines = 50

	var admitted atomic.Int64
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			if l.Allow("same-user") {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), admitted.Load())
}
