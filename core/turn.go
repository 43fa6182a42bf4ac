package core

import (
	"context"
	"iter"
)

// MetadataStatus is the CustomMetadata key of an event that relays the
// progress text of a delegated turn.
const MetadataStatus = "status"

// TurnUpdate is one element of a streamed turn. A turn yields zero or more
// updates with Complete=false followed by exactly one with Complete=true.
//
// Content of the terminal update is either a string (joined text parts) or
// a map[string]any (a structured tool result); callers must switch on the
// dynamic type. Err is set on the terminal update when the reasoning
// capability failed; Content is then empty.
type TurnUpdate struct {
	Complete bool   `json:"is_task_complete"`
	Status   string `json:"updates,omitempty"`
	Content  any    `json:"content,omitempty"`
	Author   string `json:"author,omitempty"`
	Err      error  `json:"-"`
}

// Text returns the terminal content when it is textual.
func (u TurnUpdate) Text() (string, bool) {
	s, ok := u.Content.(string)
	return s, ok
}

// Structured returns the terminal content when it is a structured payload.
func (u TurnUpdate) Structured() (map[string]any, bool) {
	m, ok := u.Content.(map[string]any)
	return m, ok
}

// TurnExecutor drives one turn of a conversation against an agent.
type TurnExecutor interface {
	// Invoke runs the turn to completion and returns the final text. An empty
	// string with a nil error means the agent produced no textual content.
	Invoke(ctx context.Context, query, sessionID string) (string, error)

	// Stream runs the turn lazily. Breaking out of the range loop abandons
	// the turn.
	Stream(ctx context.Context, query, sessionID string) iter.Seq[TurnUpdate]
}
