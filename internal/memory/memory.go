// Package memory keeps per-session conversation histories.
package memory

import (
	"context"
	"sync"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content, Timestamp: time.Now().UTC()}
}

func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content, Timestamp: time.Now().UTC()}
}

// Sessions stores one bounded history per session id. Appends beyond the
// bound evict the oldest turns first.
type Sessions interface {
	History(ctx context.Context, sessionID string) ([]Turn, error)
	Append(ctx context.Context, sessionID string, turns ...Turn) error
	Clear(ctx context.Context, sessionID string) error
}

// InMemorySessions keeps histories in process memory; they do not survive a
// restart. Sessions idle longer than the TTL are dropped by Sweep.
type InMemorySessions struct {
	mu       sync.Mutex
	sessions map[string]*session
	maxTurns int
	ttl      time.Duration
	now      func() time.Time
}

type session struct {
	turns    []Turn
	lastSeen time.Time
}

// NewInMemorySessions creates a store bounded to maxTurns per session. A
// non-positive ttl keeps sessions until they are cleared.
func NewInMemorySessions(maxTurns int, ttl time.Duration) *InMemorySessions {
	if maxTurns <= 0 {
		maxTurns = 50
	}
	return &InMemorySessions{
		sessions: make(map[string]*session),
		maxTurns: maxTurns,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (m *InMemorySessions) History(_ context.Context, sessionID string) ([]Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	sess.lastSeen = m.now()
	return append([]Turn(nil), sess.turns...), nil
}

func (m *InMemorySessions) Append(_ context.Context, sessionID string, turns ...Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		sess = &session{}
		m.sessions[sessionID] = sess
	}
	entries := append(sess.turns, stamp(turns)...)
	if len(entries) > m.maxTurns {
		entries = append([]Turn(nil), entries[len(entries)-m.maxTurns:]...)
	}
	sess.turns = entries
	sess.lastSeen = m.now()
	return nil
}

func (m *InMemorySessions) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

// Sweep drops sessions not read or written within the TTL.
func (m *InMemorySessions) Sweep() {
	if m.ttl <= 0 {
		return
	}
	cutoff := m.now().Add(-m.ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sess := range m.sessions {
		if sess.lastSeen.Before(cutoff) {
			delete(m.sessions, id)
		}
	}
}

// Len reports how many sessions hold history.
func (m *InMemorySessions) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func stamp(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	for i, t := range turns {
		if t.Timestamp.IsZero() {
			t.Timestamp = time.Now().UTC()
		}
		out[i] = t
	}
	return out
}
