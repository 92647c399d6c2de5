package service

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/digkill/printstudio/internal/store"
)

// DefaultSessionKey is used by front ends that do not identify callers.
const DefaultSessionKey = "web"

// SessionRegistry hands out one session per caller key. Bounded registries
// forget the least recently used session past their size and any session
// left idle longer than their ttl.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions *expirable.LRU[string, *store.Session]
	opts     []store.Option
}

// NewSessionRegistry keeps every session for the life of the process.
func NewSessionRegistry(opts ...store.Option) *SessionRegistry {
	return NewBoundedSessionRegistry(0, 0, opts...)
}

// NewBoundedSessionRegistry caps the registry at maxSessions and evicts
// sessions idle for longer than idle. Zero disables either limit.
func NewBoundedSessionRegistry(maxSessions int, idle time.Duration, opts ...store.Option) *SessionRegistry {
	return &SessionRegistry{
		sessions: expirable.NewLRU[string, *store.Session](maxSessions, nil, idle),
		opts:     opts,
	}
}

// Get returns the session for key, creating it on first use. Every call
// renews the session's idle deadline.
func (r *SessionRegistry) Get(key string) *store.Session {
	if key == "" {
		key = DefaultSessionKey
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions.Get(key)
	if !ok {
		sess = store.NewSession(key, r.opts...)
	}
	r.sessions.Add(key, sess)
	return sess
}

func (r *SessionRegistry) Len() int {
	return r.sessions.Len()
}

// ForProject returns every session that currently has projectID open.
func (r *SessionRegistry) ForProject(projectID string) []*store.Session {
	var out []*store.Session
	for _, sess := range r.sessions.Values() {
		if sess != nil && sess.ProjectID() == projectID {
			out = append(out, sess)
		}
	}
	return out
}
