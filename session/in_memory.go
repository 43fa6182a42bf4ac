package session

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/hupe1980/pdlcmesh/core"
)

// Options configures an InMemoryStore.
type Options struct {
	// TTL evicts sessions that have not been touched for the given duration.
	// Zero disables eviction.
	TTL time.Duration
	// Now is the clock used for TTL bookkeeping.
	Now func() time.Time
}

type entry struct {
	session *core.Session
	touched time.Time
}

// InMemoryStore is a process-local core.SessionStore. Returned sessions are
// clones, so callers never share mutable state with the store.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[core.SessionKey]*entry
	opts     Options
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{Now: time.Now}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &InMemoryStore{sessions: make(map[core.SessionKey]*entry), opts: opts}
}

// Create stores a new session seeded with state.
func (s *InMemoryStore) Create(_ context.Context, key core.SessionKey, state map[string]any) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookupLocked(key); ok {
		return nil, core.ErrSessionExists
	}

	sess := core.NewSession(key)
	maps.Copy(sess.State, state)
	s.sessions[key] = &entry{session: sess, touched: s.opts.Now()}

	return sess.Clone(), nil
}

// Get returns a copy of the session or core.ErrSessionNotFound.
func (s *InMemoryStore) Get(_ context.Context, key core.SessionKey) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookupLocked(key)
	if !ok {
		return nil, core.ErrSessionNotFound
	}

	return e.session.Clone(), nil
}

// AppendEvent appends ev to the session history.
func (s *InMemoryStore) AppendEvent(_ context.Context, key core.SessionKey, ev core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookupLocked(key)
	if !ok {
		return core.ErrSessionNotFound
	}

	e.session.AddEvent(ev)
	e.touched = s.opts.Now()

	return nil
}

// ApplyDelta merges delta into the session state.
func (s *InMemoryStore) ApplyDelta(_ context.Context, key core.SessionKey, delta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookupLocked(key)
	if !ok {
		return core.ErrSessionNotFound
	}

	e.session.ApplyStateDelta(delta)
	e.touched = s.opts.Now()

	return nil
}

// Len reports the number of live sessions.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.sessions {
		if _, ok := s.lookupLocked(key); ok {
			n++
		}
	}

	return n
}

// lookupLocked returns the entry for key, evicting it when expired.
func (s *InMemoryStore) lookupLocked(key core.SessionKey) (*entry, bool) {
	e, ok := s.sessions[key]
	if !ok {
		return nil, false
	}

	if s.opts.TTL > 0 && s.opts.Now().Sub(e.touched) > s.opts.TTL {
		delete(s.sessions, key)
		return nil, false
	}

	return e, true
}
