package testutil

import (
	"github.com/hupe1980/pdlcmesh/core"
)

// SessionBuilder assembles sessions with pre-populated state and history.
//
//	sess := testutil.NewSessionBuilder("sde_agent", "s1").State("user", "ada").Events(ev1, ev2).Build()
type SessionBuilder struct {
	key    core.SessionKey
	state  map[string]any
	events []core.Event
}

// NewSessionBuilder starts a session owned by the agent appName.
func NewSessionBuilder(appName, id string) *SessionBuilder {
	return &SessionBuilder{key: core.SessionKey{AppName: appName, ID: id}, state: map[string]any{}}
}

// State sets one state value.
func (b *SessionBuilder) State(key string, val any) *SessionBuilder {
	b.state[key] = val
	return b
}

// Events appends events to the history.
func (b *SessionBuilder) Events(evs ...core.Event) *SessionBuilder {
	b.events = append(b.events, evs...)
	return b
}

// Key returns the key of the session being built.
func (b *SessionBuilder) Key() core.SessionKey { return b.key }

// Build returns the session.
func (b *SessionBuilder) Build() *core.Session {
	s := core.NewSession(b.key)
	s.ApplyStateDelta(b.state)
	for _, ev := range b.events {
		s.AddEvent(ev)
	}
	return s
}
