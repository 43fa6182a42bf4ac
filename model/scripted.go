package model

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/hupe1980/pdlcmesh/core"
)

// ErrScriptExhausted is returned by ScriptedModel once every step was replayed.
var ErrScriptExhausted = errors.New("model: script exhausted")

// Step is one scripted model call. Fn, when set, computes the step from the
// request; otherwise Response or Err is returned as is.
type Step struct {
	Response Response
	Err      error
	Fn       func(req Request) (Response, error)
	// Silent closes the stream without a final response.
	Silent bool
}

// TextStep answers with a final text response.
func TextStep(text string) Step {
	return Step{Response: Response{
		Content:      core.NewTextContent("assistant", text),
		FinishReason: "stop",
	}}
}

// CallStep answers with one or more function calls.
func CallStep(calls ...core.FunctionCall) Step {
	parts := make([]core.Part, 0, len(calls))
	for _, c := range calls {
		if c.ID == "" {
			c.ID = core.NewID()
		}
		parts = append(parts, core.FunctionCallPart{FunctionCall: c})
	}
	return Step{Response: Response{
		Content:      core.Content{Role: "assistant", Parts: parts},
		FinishReason: "tool_calls",
	}}
}

// SilentStep ends the model call without producing any response.
func SilentStep() Step { return Step{Silent: true} }

// ErrorStep fails the model call with err.
func ErrorStep(err error) Step { return Step{Err: err} }

// ScriptedModel replays Steps in order. Streaming requests receive the text
// of a step word by word as partial responses before the final response.
// It is safe for concurrent use; concurrent callers consume steps in
// arrival order.
type ScriptedModel struct {
	mu       sync.Mutex
	steps    []Step
	requests []Request
	info     Info
}

// NewScriptedModel constructs a ScriptedModel.
func NewScriptedModel(steps ...Step) *ScriptedModel {
	return &ScriptedModel{
		steps: steps,
		info:  Info{Name: "scripted", Provider: "scripted", SupportsTools: true},
	}
}

// Push appends further steps.
func (m *ScriptedModel) Push(steps ...Step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, steps...)
}

// Requests returns the requests received so far.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Remaining returns the number of steps not yet replayed.
func (m *ScriptedModel) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.steps)
}

func (m *ScriptedModel) next(req Request) (Step, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if len(m.steps) == 0 {
		return Step{}, false
	}

	s := m.steps[0]
	m.steps = m.steps[1:]

	return s, true
}

// Generate implements Model.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	out := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		step, ok := m.next(req)
		if !ok {
			errCh <- ErrScriptExhausted
			return
		}

		resp, err := step.Response, step.Err
		if step.Fn != nil {
			resp, err = step.Fn(req)
		}

		if err != nil {
			errCh <- err
			return
		}

		if step.Silent {
			return
		}

		if req.Stream {
			for _, w := range partialWords(resp.Content) {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case out <- Response{Partial: true, Content: core.NewTextContent("assistant", w)}:
				}
			}
		}

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case out <- resp:
		}
	}()

	return out, errCh
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }

func partialWords(c core.Content) []string {
	var words []string
	for _, p := range c.Parts {
		if tp, ok := p.(core.TextPart); ok {
			for _, w := range strings.Fields(tp.Text) {
				words = append(words, w+" ")
			}
		}
	}
	return words
}
