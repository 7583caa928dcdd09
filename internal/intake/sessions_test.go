package intake

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/iliamunaev/paper-order-pipeline/internal/metrics"
)

var timeZero = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newSessions(st *fakeStarter, c *clock) *Sessions {
	m, _ := newMachine(st)
	return NewSessions(m, WithTTL(30*time.Minute), WithSessionClock(c.Now), WithSessionMetrics(metrics.New()))
}

func TestSessionsStartHint(t *testing.T) {
	t.Parallel()

	s := newSessions(&fakeStarter{}, &clock{now: timeZero})
	r := s.Handle(context.Background(), "chat-1", "user-1", "hello")
	assert.Contains(t, r.Text, TokenStart)
	assert.Equal(t, 0, s.Len())
}

func TestSessionsFullFlow(t *testing.T) {
	t.Parallel()

	st := &fakeStarter{}
	s := newSessions(st, &clock{now: timeZero})
	ctx := context.Background()

	r := s.Handle(ctx, "chat-1", "user-1", "/order")
	require.Equal(t, StepWorkType, r.Step)
	for _, msg := range append(toPreferences, "Skip") {
		r = s.Handle(ctx, "chat-1", "user-1", msg)
	}
	require.Equal(t, StepPayment, r.Step)

	f, ok := s.State("chat-1")
	require.True(t, ok)
	assert.Equal(t, "Roman law", f.Draft.Subject)

	r = s.Handle(ctx, "chat-1", "user-1", "Pay")
	require.True(t, r.Done)
	assert.NotEmpty(t, r.PaymentURL)

	_, ok = s.State("chat-1")
	assert.False(t, ok, "finished dialogue is discarded")
	assert.Equal(t, 0, s.Len())
}

func TestSessionsRestart(t *testing.T) {
	t.Parallel()

	s := newSessions(&fakeStarter{}, &clock{now: timeZero})
	ctx := context.Background()

	s.Handle(ctx, "chat-1", "user-1", "/order")
	s.Handle(ctx, "chat-1", "user-1", "Essay")
	r := s.Handle(ctx, "chat-1", "user-1", "/order")

	assert.Equal(t, StepWorkType, r.Step)
	f, ok := s.State("chat-1")
	require.True(t, ok)
	assert.Empty(t, f.Draft.WorkType)
	assert.Equal(t, 1, s.Len())
}

func TestSessionsIsolated(t *testing.T) {
	t.Parallel()

	s := newSessions(&fakeStarter{}, &clock{now: timeZero})
	ctx := context.Background()

	s.Handle(ctx, "chat-1", "user-1", "/order")
	s.Handle(ctx, "chat-2", "user-2", "/order")
	s.Handle(ctx, "chat-1", "user-1", "Essay")
	s.Handle(ctx, "chat-2", "user-2", "/cancel")

	f, ok := s.State("chat-1")
	require.True(t, ok)
	assert.Equal(t, StepSubject, f.Step)
	_, ok = s.State("chat-2")
	assert.False(t, ok)
}

func TestSessionsExpire(t *testing.T) {
	t.Parallel()

	c := &clock{now: timeZero}
	s := newSessions(&fakeStarter{}, c)
	ctx := context.Background()

	s.Handle(ctx, "chat-1", "user-1", "/order")
	c.Advance(29 * time.Minute)
	r := s.Handle(ctx, "chat-1", "user-1", "Essay")
	require.Equal(t, StepSubject, r.Step, "activity keeps the dialogue alive")

	c.Advance(31 * time.Minute)
	r = s.Handle(ctx, "chat-1", "user-1", "Law")
	assert.Contains(t, r.Text, TokenStart)
	assert.Equal(t, 0, s.Len())
}

func TestSessionsSweep(t *testing.T) {
	t.Parallel()

	c := &clock{now: timeZero}
	s := newSessions(&fakeStarter{}, c)
	ctx := context.Background()

	s.Handle(ctx, "chat-1", "user-1", "/order")
	c.Advance(20 * time.Minute)
	s.Handle(ctx, "chat-2", "user-2", "/order")
	c.Advance(15 * time.Minute)

	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Len())
	_, ok := s.State("chat-2")
	assert.True(t, ok)
}

// Messages of one chat are applied one at a time.
func TestSessionsConcurrentMessages(t *testing.T) {
	t.Parallel()

	s := newSessions(&fakeStarter{}, &clock{now: timeZero})
	ctx := context.Background()

	const chats = 8
	var wg sync.WaitGroup
	for i := 0; i < chats; i++ {
		chat := fmt.Sprintf("chat-%d", i)
		s.Handle(ctx, chat, "user", "/order")
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Handle(ctx, chat, "user", "Back")
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, chats, s.Len())
	for i := 0; i < chats; i++ {
		f, ok := s.State(fmt.Sprintf("chat-%d", i))
		require.True(t, ok)
		assert.Equal(t, StepWorkType, f.Step)
	}
}

func TestSessionsRunStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := newSessions(&fakeStarter{}, &clock{now: timeZero})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, time.Millisecond)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	<-done
}

func TestNewSessionsPanicsOnNil(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { NewSessions(nil) })
}
