package core

import (
	"context"
	"maps"
	"sync"
	"time"
)

// SessionKey identifies a session. AppName is the owning agent's name, so
// the same external session id used with two agents yields two sessions.
type SessionKey struct {
	AppName string `json:"app_name"`
	ID      string `json:"id"`
}

// String renders the key as "app/id".
func (k SessionKey) String() string { return k.AppName + "/" + k.ID }

// Session represents a conversational container tracking mutable key/value
// state plus an ordered event history. It is safe for concurrent access.
//
// Contract:
//   - State mutations update the Updated timestamp
//   - GetEvents returns a copy
//   - GetConversationHistory excludes partial fragments and non-conversational roles
//   - Clone deep-copies maps and slices
type Session struct {
	ID      string         `json:"id"`
	AppName string         `json:"app_name"`
	State   map[string]any `json:"state"`
	Events  []Event        `json:"events"`
	Created time.Time      `json:"created"`
	Updated time.Time      `json:"updated"`
	mu      sync.RWMutex
}

// NewSession creates an empty session for the given key.
func NewSession(key SessionKey) *Session {
	now := time.Now().UTC()
	return &Session{ID: key.ID, AppName: key.AppName, State: map[string]any{}, Events: []Event{}, Created: now, Updated: now}
}

// Key returns the session's identifying key.
func (s *Session) Key() SessionKey { return SessionKey{AppName: s.AppName, ID: s.ID} }

// GetState returns the value and existence flag for a state key.
func (s *Session) GetState(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.State[key]
	return v, ok
}

// ApplyStateDelta merges the provided key/value pairs into State.
func (s *Session) ApplyStateDelta(delta map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.State, delta)
	s.Updated = time.Now().UTC()
}

// AddEvent appends an event to the history.
func (s *Session) AddEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, ev)
	s.Updated = time.Now().UTC()
}

// GetEvents returns a copy of the full event slice.
func (s *Session) GetEvents() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]Event, len(s.Events))
	copy(events, s.Events)
	return events
}

// GetConversationHistory returns the events suitable as model context.
func (s *Session) GetConversationHistory() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]Event, 0, len(s.Events))
	for _, ev := range s.Events {
		if ev.Content == nil || ev.IsPartial() {
			continue
		}
		switch ev.Content.Role {
		case "user", "assistant", "tool":
			res = append(res, ev)
		}
	}
	return res
}

// Clone returns a deep copy of the session safe for independent mutation.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &Session{
		ID:      s.ID,
		AppName: s.AppName,
		State:   make(map[string]any, len(s.State)),
		Events:  make([]Event, len(s.Events)),
		Created: s.Created,
		Updated: s.Updated,
	}
	maps.Copy(clone.State, s.State)
	copy(clone.Events, s.Events)
	return clone
}

// SessionStore persists sessions and their evolving state / event history.
//
// Get returns ErrSessionNotFound for unknown keys and never creates;
// Create returns ErrSessionExists when the key is already present.
type SessionStore interface {
	Create(ctx context.Context, key SessionKey, state map[string]any) (*Session, error)
	Get(ctx context.Context, key SessionKey) (*Session, error)
	AppendEvent(ctx context.Context, key SessionKey, ev Event) error
	ApplyDelta(ctx context.Context, key SessionKey, delta map[string]any) error
}
