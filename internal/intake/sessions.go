package intake

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iliamunaev/paper-order-pipeline/internal/metrics"
)

// DefaultTTL is how long an idle dialogue is kept.
const DefaultTTL = 30 * time.Minute

type session struct {
	mu    sync.Mutex
	state *FormState
	// gone is set once the session left the registry.
	gone bool
}

// Sessions holds one dialogue per chat. Messages of one chat are handled
// one at a time; different chats never block each other.
type Sessions struct {
	machine *Machine
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*session
}

// SessionsOption configures Sessions.
type SessionsOption func(*Sessions)

// WithTTL sets the idle expiry.
func WithTTL(d time.Duration) SessionsOption {
	return func(s *Sessions) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithSessionClock replaces time.Now.
func WithSessionClock(now func() time.Time) SessionsOption {
	return func(s *Sessions) { s.now = now }
}

// WithSessionMetrics reports the number of open dialogues.
func WithSessionMetrics(m *metrics.Metrics) SessionsOption {
	return func(s *Sessions) { s.metrics = m }
}

// NewSessions creates an empty registry.
func NewSessions(m *Machine, opts ...SessionsOption) *Sessions {
	if m == nil {
		panic("intake.NewSessions: nil machine")
	}
	s := &Sessions{
		machine:  m,
		ttl:      DefaultTTL,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle routes one message of chatID. TokenStart always starts a new
// dialogue; without a dialogue any other text gets the start hint.
func (s *Sessions) Handle(ctx context.Context, chatID, userID, text string) Reply {
	if strings.TrimSpace(text) == TokenStart {
		f, r := s.machine.Begin(ctx, chatID, userID, s.now())
		s.put(chatID, f)
		return r
	}

	sess := s.lookup(chatID)
	if sess == nil {
		return startHint()
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.gone {
		return startHint()
	}

	r := s.machine.Handle(ctx, sess.state, text)
	sess.state.LastActivity = s.now()
	if r.Done {
		s.remove(chatID, sess)
	}
	return r
}

// State returns a copy of the dialogue of chatID.
func (s *Sessions) State(chatID string) (FormState, bool) {
	sess := s.lookup(chatID)
	if sess == nil {
		return FormState{}, false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.gone {
		return FormState{}, false
	}
	return *sess.state, true
}

// Len returns the number of open dialogues.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops dialogues idle for longer than the TTL and returns how many
// were dropped.
func (s *Sessions) Sweep() int {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	var stale []*session
	for id, sess := range s.sessions {
		if !sess.mu.TryLock() {
			// Busy sessions are not idle.
			continue
		}
		if sess.state.LastActivity.Before(cutoff) {
			sess.gone = true
			delete(s.sessions, id)
			stale = append(stale, sess)
		}
		sess.mu.Unlock()
	}
	n := len(s.sessions)
	s.mu.Unlock()

	s.metrics.SetIntakeSessions(n)
	if len(stale) > 0 {
		log.Debug().Int("expired", len(stale)).Int("open", n).Msg("intake sessions expired")
	}
	return len(stale)
}

// Run sweeps expired dialogues every interval until ctx is done.
func (s *Sessions) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep()
		}
	}
}

func (s *Sessions) put(chatID string, f *FormState) {
	s.mu.Lock()
	old := s.sessions[chatID]
	s.sessions[chatID] = &session{state: f}
	n := len(s.sessions)
	s.mu.Unlock()

	// Lock order is session before registry, so the replaced session is
	// marked only after the registry lock is released.
	if old != nil {
		old.mu.Lock()
		old.gone = true
		old.mu.Unlock()
	}
	s.metrics.SetIntakeSessions(n)
}

// lookup returns the live session of chatID, expiring it when idle.
func (s *Sessions) lookup(chatID string) *session {
	s.mu.Lock()
	sess, ok := s.sessions[chatID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.gone && s.now().Sub(sess.state.LastActivity) > s.ttl {
		s.remove(chatID, sess)
		return nil
	}
	return sess
}

// remove drops sess from the registry. The caller holds sess.mu.
func (s *Sessions) remove(chatID string, sess *session) {
	sess.gone = true
	s.mu.Lock()
	if cur, ok := s.sessions[chatID]; ok && cur == sess {
		delete(s.sessions, chatID)
	}
	n := len(s.sessions)
	s.mu.Unlock()

	s.metrics.SetIntakeSessions(n)
}

func startHint() Reply {
	return Reply{Text: "Send " + TokenStart + " to place an order.", Options: []string{TokenStart}}
}
