// Package session manages provider session handles: lazily acquired,
// cached per provider for the life of the process, and recreated only after
// an explicit invalidation.
package session

import (
	"context"
	"net/http"
	"sync"
)

// Session is an opaque provider handle. Depending on the provider it holds
// a cookie jar, an anti-forgery token, a login token, or nothing at all.
// A session without a token is weaker but still usable; some endpoints
// tolerate the missing parameter.
type Session struct {
	Jar   http.CookieJar
	Token string
}

// Handshake performs a provider's handshake and returns a fresh handle.
// A handshake that cannot obtain its optional token should log and return a
// tokenless session rather than fail; it returns an error only when base
// connectivity is unrecoverable for the provider in question.
type Handshake func(ctx context.Context) (*Session, error)

// Manager caches one live session per provider. Concurrent Acquire calls
// during an invalid window may race to redundant handshakes; that is
// tolerated, but the cached value is always published whole and the final
// write wins.
type Manager struct {
	handshake Handshake

	mu      sync.Mutex
	current *Session
}

func NewManager(handshake Handshake) *Manager {
	return &Manager{handshake: handshake}
}

// Acquire returns the cached session, performing the handshake if none is
// cached. The result is cached even when weaker (tokenless) so repeat
// callers do not hammer the handshake endpoints.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.current != nil {
		sess := m.current
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	sess, err := m.handshake(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.current = sess
	m.mu.Unlock()
	return sess, nil
}

// Invalidate drops the cached session unconditionally. It never fails; the
// next Acquire performs a fresh handshake.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
}

// Current returns the cached session without triggering a handshake, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
