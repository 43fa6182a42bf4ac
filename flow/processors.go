package flow

import (
	"fmt"
	"strings"

	"github.com/hupe1980/pdlcmesh/core"
	"github.com/hupe1980/pdlcmesh/internal/util"
	"github.com/hupe1980/pdlcmesh/model"
)

// InstructionsProcessor resolves the agent instructions and renders them
// against the session state.
type InstructionsProcessor struct{}

// NewInstructionsProcessor creates a new instructions processor.
func NewInstructionsProcessor() *InstructionsProcessor { return &InstructionsProcessor{} }

// Name returns the processor's identifier.
func (p *InstructionsProcessor) Name() string { return "instructions" }

// ProcessRequest sets req.Instructions.
func (p *InstructionsProcessor) ProcessRequest(runCtx *core.RunContext, req *model.Request, agent FlowAgent) error {
	instructions, err := agent.ResolveInstructions(runCtx)
	if err != nil {
		return fmt.Errorf("resolve instruction: %w", err)
	}

	state := map[string]any{}
	if runCtx.Session != nil {
		state = runCtx.Session.Clone().State
	}

	req.Instructions, err = util.RenderTemplate(instructions, state)
	if err != nil {
		return fmt.Errorf("render instruction: %w", err)
	}

	runCtx.LogDebug("agent.instruction.resolved", "agent", agent.Name(), "length", len(req.Instructions))

	return nil
}

// ContentsProcessor copies the bounded conversation history into the request.
type ContentsProcessor struct{}

// NewContentsProcessor creates a new contents processor.
func NewContentsProcessor() *ContentsProcessor { return &ContentsProcessor{} }

// Name returns the processor's identifier.
func (p *ContentsProcessor) Name() string { return "contents" }

// ProcessRequest sets req.Contents. A truncated history never starts with a
// tool response whose call was cut off.
func (p *ContentsProcessor) ProcessRequest(runCtx *core.RunContext, req *model.Request, agent FlowAgent) error {
	events := runCtx.GetSessionHistory()

	if limit := agent.MaxHistoryMessages(); limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
		for len(events) > 0 && events[0].Content.Role == "tool" {
			events = events[1:]
		}
	}

	contents := make([]core.Content, 0, len(events))
	for _, ev := range events {
		if len(ev.Content.Parts) > 0 {
			contents = append(contents, *ev.Content)
		}
	}

	req.Contents = contents

	return nil
}

// RecallProcessor prepends memories of earlier turns that match the user
// query as a system content.
type RecallProcessor struct {
	limit int
}

// NewRecallProcessor creates a recall processor returning at most limit memories.
func NewRecallProcessor(limit int) *RecallProcessor { return &RecallProcessor{limit: limit} }

// Name returns the processor's identifier.
func (p *RecallProcessor) Name() string { return "recall" }

// ProcessRequest prepends recalled memories when any match.
func (p *RecallProcessor) ProcessRequest(runCtx *core.RunContext, req *model.Request, agent FlowAgent) error {
	query := runCtx.UserText()
	if query == "" || p.limit <= 0 {
		return nil
	}

	results, err := runCtx.SearchMemory(query, p.limit)
	if err != nil {
		runCtx.LogWarn("agent.recall.failed", "agent", agent.Name(), "error", err.Error())
		return nil
	}

	if len(results) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("Relevant earlier turns:\n")
	for _, r := range results {
		b.WriteString("- ")
		b.WriteString(r.Content)
		b.WriteString("\n")
	}

	req.Contents = append([]core.Content{core.NewTextContent("system", b.String())}, req.Contents...)

	return nil
}
