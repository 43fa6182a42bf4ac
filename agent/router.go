package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/pdlcmesh/core"
	"github.com/hupe1980/pdlcmesh/model"
	"github.com/hupe1980/pdlcmesh/tool"
)

// ErrNoDecision is returned when a router picks no child and asks nothing.
var ErrNoDecision = errors.New("router made no decision")

// Candidate is a child agent a router may choose.
type Candidate struct {
	Name        string
	Description string
}

// RouteRequest is the input of one routing decision.
type RouteRequest struct {
	Coordinator string
	Query       string
	Candidates  []Candidate
	// History is the coordinator's conversation so far, the query included.
	History []core.Content
}

// Decision is the outcome of routing: exactly one of Agent or Clarification
// is set.
type Decision struct {
	Agent         string
	Clarification string
}

// Router picks at most one child for a turn or asks a clarifying question.
type Router interface {
	Route(ctx context.Context, req RouteRequest) (Decision, error)
}

// RouterFunc adapts a function to Router.
type RouterFunc func(ctx context.Context, req RouteRequest) (Decision, error)

// Route implements Router.
func (f RouterFunc) Route(ctx context.Context, req RouteRequest) (Decision, error) {
	return f(ctx, req)
}

// StaticRouter always delegates to the same child.
type StaticRouter string

// Route implements Router.
func (s StaticRouter) Route(context.Context, RouteRequest) (Decision, error) {
	return Decision{Agent: string(s)}, nil
}

// ModelRouterOptions configures a ModelRouter.
type ModelRouterOptions struct {
	// Instruction is the coordinator persona; the candidate list is appended.
	Instruction string
	// MaxHistoryMessages bounds the history sent to the model.
	MaxHistoryMessages int
}

// ModelRouter lets a model decide through the transfer_to_agent tool. A text
// answer instead of a tool call is treated as a clarifying question.
type ModelRouter struct {
	llm  model.Model
	opts ModelRouterOptions
}

// NewModelRouter creates a model backed router.
func NewModelRouter(llm model.Model, optFns ...func(o *ModelRouterOptions)) *ModelRouter {
	opts := ModelRouterOptions{
		Instruction: "You are a coordinator. You never answer requests yourself. " +
			"Delegate each user request to exactly one of the agents below by calling transfer_to_agent. " +
			"If the request is too ambiguous to delegate, ask the user one short clarifying question instead.",
		MaxHistoryMessages: 20,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &ModelRouter{llm: llm, opts: opts}
}

// Route implements Router.
func (r *ModelRouter) Route(ctx context.Context, req RouteRequest) (Decision, error) {
	names := make([]string, 0, len(req.Candidates))
	var b strings.Builder
	b.WriteString(r.opts.Instruction)
	b.WriteString("\n\nAgents:\n")
	for _, c := range req.Candidates {
		names = append(names, c.Name)
		fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Description)
	}

	history := req.History
	if n := r.opts.MaxHistoryMessages; n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	if len(history) == 0 {
		history = []core.Content{core.NewTextContent("user", req.Query)}
	}

	transfer := tool.NewTransferToAgentTool(names...)
	mreq := model.Request{
		Instructions: b.String(),
		Contents:     routingContents(history),
		Tools: []model.ToolDefinition{
			model.NewFunctionDefinition(transfer.Name(), transfer.Description(), transfer.Parameters()),
		},
	}

	respCh, errCh := r.llm.Generate(ctx, mreq)

	var final *model.Response
	for resp := range respCh {
		if !resp.Partial {
			final = &resp
		}
	}

	if err := <-errCh; err != nil {
		return Decision{}, fmt.Errorf("route: %w", err)
	}

	if final == nil {
		return Decision{}, fmt.Errorf("route: %w", ErrNoDecision)
	}

	var text []string
	for _, p := range final.Content.Parts {
		switch part := p.(type) {
		case core.FunctionCallPart:
			if part.FunctionCall.Name != tool.TransferToAgentName {
				continue
			}
			var args struct {
				Agent string `json:"agent"`
			}
			if err := json.Unmarshal([]byte(part.FunctionCall.Arguments), &args); err != nil {
				return Decision{}, fmt.Errorf("route: decode transfer arguments: %w", err)
			}
			return Decision{Agent: strings.TrimSpace(args.Agent)}, nil
		case core.TextPart:
			if part.Text != "" {
				text = append(text, part.Text)
			}
		}
	}

	if len(text) == 0 {
		return Decision{}, fmt.Errorf("route: %w", ErrNoDecision)
	}

	return Decision{Clarification: strings.Join(text, "\n")}, nil
}

// routingContents keeps only the conversational text of the history; the
// router never sees child tool traffic.
func routingContents(history []core.Content) []core.Content {
	out := make([]core.Content, 0, len(history))
	for _, c := range history {
		if c.Role != "user" && c.Role != "assistant" {
			continue
		}
		var parts []core.Part
		for _, p := range c.Parts {
			switch p.(type) {
			case core.TextPart, core.DataPart:
				parts = append(parts, p)
			}
		}
		if len(parts) > 0 {
			out = append(out, core.Content{Role: c.Role, Parts: parts})
		}
	}
	return out
}
