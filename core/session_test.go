package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSession_ApplyStateDeltaAndClone(t *testing.T) {
	s := NewSession(SessionKey{AppName: "sde_agent", ID: "s1"})
	s.ApplyStateDelta(map[string]any{"a": 1})

	clone := s.Clone()
	clone.ApplyStateDelta(map[string]any{"a": 2})

	v, _ := s.GetState("a")
	assert.Equal(t, 1, v)
	v, _ = clone.GetState("a")
	assert.Equal(t, 2, v)
	assert.Equal(t, SessionKey{AppName: "sde_agent", ID: "s1"}, clone.Key())
}

func TestSession_ConversationHistorySkipsPartials(t *testing.T) {
	s := NewSession(SessionKey{AppName: "qa_agent", ID: "s1"})
	partial := true

	p := NewMessageEvent("r", "qa_agent", "chunk")
	p.Partial = &partial

	system := NewEvent("r", "system")
	system.Content = &Content{Role: "system", Parts: []Part{TextPart{Text: "x"}}}

	s.AddEvent(NewUserContentEvent("r", &Content{Role: "user", Parts: []Part{TextPart{Text: "hi"}}}))
	s.AddEvent(p)
	s.AddEvent(system)
	s.AddEvent(NewMessageEvent("r", "qa_agent", "hello"))

	assert.Len(t, s.GetEvents(), 4)
	assert.Len(t, s.GetConversationHistory(), 2)
}

func TestSessionKey_String(t *testing.T) {
	assert.Equal(t, "Coordinator/abc", SessionKey{AppName: "Coordinator", ID: "abc"}.String())
}
