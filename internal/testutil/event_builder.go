package testutil

import (
	"github.com/hupe1980/pdlcmesh/core"
)

// EventBuilder assembles core.Event values for tests.
//
//	ev := testutil.NewEventBuilder("sde_agent").RunID("r1").
//		FunctionCall("generate_code", `{"task_details":{}}`).Build()
type EventBuilder struct {
	author   string
	runID    string
	id       string
	role     string
	partial  *bool
	complete *bool
	errCode  *string
	errMsg   *string
	actions  core.EventActions
	parts    []core.Part
}

// NewEventBuilder starts an event authored by author.
func NewEventBuilder(author string) *EventBuilder {
	return &EventBuilder{author: author, runID: "run-1"}
}

// RunID binds the event to a run.
func (b *EventBuilder) RunID(id string) *EventBuilder { b.runID = id; return b }

// ID fixes the event id.
func (b *EventBuilder) ID(id string) *EventBuilder { b.id = id; return b }

// Partial marks the event as a streaming fragment.
func (b *EventBuilder) Partial() *EventBuilder { t := true; b.partial = &t; return b }

// TurnComplete marks the model turn as finished.
func (b *EventBuilder) TurnComplete() *EventBuilder { t := true; b.complete = &t; return b }

// UserText appends a user text part.
func (b *EventBuilder) UserText(text string) *EventBuilder {
	b.role = "user"
	b.parts = append(b.parts, core.TextPart{Text: text})
	return b
}

// Text appends an assistant text part.
func (b *EventBuilder) Text(text string) *EventBuilder {
	b.role = "assistant"
	b.parts = append(b.parts, core.TextPart{Text: text})
	return b
}

// Data appends an assistant data part.
func (b *EventBuilder) Data(data map[string]any) *EventBuilder {
	b.role = "assistant"
	b.parts = append(b.parts, core.DataPart{Data: data})
	return b
}

// FunctionCall appends a tool call with JSON arguments.
func (b *EventBuilder) FunctionCall(name, args string) *EventBuilder {
	b.role = "assistant"
	b.parts = append(b.parts, core.FunctionCallPart{
		FunctionCall: core.FunctionCall{ID: core.NewID(), Name: name, Arguments: args},
	})
	return b
}

// FunctionResponse appends a tool result. A non-nil err is recorded as the
// response error.
func (b *EventBuilder) FunctionResponse(id, name string, result any, err error) *EventBuilder {
	b.role = "tool"
	fr := core.FunctionResponse{ID: id, Name: name, Response: result}
	if err != nil {
		fr.Error = err.Error()
	}
	b.parts = append(b.parts, core.FunctionResponsePart{FunctionResponse: fr})
	return b
}

// Error marks the event as an error event.
func (b *EventBuilder) Error(code, msg string) *EventBuilder {
	b.errCode = &code
	b.errMsg = &msg
	return b
}

// StateDelta sets the state changes carried by the event.
func (b *EventBuilder) StateDelta(delta map[string]any) *EventBuilder {
	b.actions.StateDelta = delta
	return b
}

// Transfer requests a hand-off to the named agent.
func (b *EventBuilder) Transfer(to string) *EventBuilder { b.actions.TransferToAgent = &to; return b }

// Escalate sets the escalate action.
func (b *EventBuilder) Escalate() *EventBuilder { t := true; b.actions.Escalate = &t; return b }

// Build returns the event.
func (b *EventBuilder) Build() core.Event {
	ev := core.NewEvent(b.runID, b.author)
	if b.id != "" {
		ev.ID = b.id
	}

	ev.Partial = b.partial
	ev.TurnComplete = b.complete
	ev.ErrorCode = b.errCode
	ev.ErrorMessage = b.errMsg
	ev.Actions = b.actions

	if len(b.parts) > 0 {
		ev.Content = &core.Content{Role: b.role, Parts: append([]core.Part(nil), b.parts...)}
	}

	return ev
}
