// Package flow drives the reasoning loop of a leaf agent: build a model
// request, stream the model response, execute requested tools and repeat
// until the model produces a final response.
package flow

import (
	"errors"

	"github.com/hupe1980/pdlcmesh/core"
	"github.com/hupe1980/pdlcmesh/model"
	"github.com/hupe1980/pdlcmesh/tool"
)

var (
	// ErrModelCallLimit is returned when a run exceeds its model call budget.
	ErrModelCallLimit = errors.New("flow: model call limit exceeded")
)

// Flow executes one agent run, emitting events through the RunContext.
type Flow interface {
	Execute(runCtx *core.RunContext) error
}

// FlowAgent is the view of a leaf agent the flow needs.
type FlowAgent interface {
	Name() string

	// Model returns the reasoning capability.
	Model() model.Model

	// ResolveInstructions produces the system prompt for this run.
	ResolveInstructions(runCtx *core.RunContext) (string, error)

	// Tools returns the agent's tools in declaration order.
	Tools() *tool.Set

	// IsStreamingEnabled reports whether partial model output is requested.
	IsStreamingEnabled() bool

	// MaxHistoryMessages bounds the conversation history sent to the model.
	MaxHistoryMessages() int

	// OutputKey is the session state key the final text is saved under ("" disables).
	OutputKey() string
}

// RequestProcessor prepares the model request before each model call.
type RequestProcessor interface {
	Name() string
	ProcessRequest(runCtx *core.RunContext, req *model.Request, agent FlowAgent) error
}
