package agent

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/pdlcmesh/core"
	"github.com/hupe1980/pdlcmesh/flow"
	"github.com/hupe1980/pdlcmesh/metrics"
	"github.com/hupe1980/pdlcmesh/model"
	"github.com/hupe1980/pdlcmesh/tool"
)

var tracer = otel.Tracer("github.com/hupe1980/pdlcmesh/agent")

// ModelAgentOptions configures a ModelAgent.
type ModelAgentOptions struct {
	Description        string
	Instruction        Instruction
	Tools              []tool.Tool
	EnableStreaming    bool
	MaxHistoryMessages int
	OutputKey          string
	// RecallLimit > 0 prepends up to that many memories of earlier turns.
	RecallLimit int
	Metrics     metrics.Recorder
}

// ModelAgent is a leaf agent: it owns tools and drives its model through the
// flow loop until the model produces a final response.
type ModelAgent struct {
	BaseAgent

	llm                model.Model
	instruction        Instruction
	tools              *tool.Set
	enableStreaming    bool
	maxHistoryMessages int
	outputKey          string
	flow               flow.Flow
}

// NewModelAgent creates a leaf agent. Duplicate tool names are rejected.
func NewModelAgent(name string, llm model.Model, optFns ...func(o *ModelAgentOptions)) (*ModelAgent, error) {
	if llm == nil {
		return nil, fmt.Errorf("agent %s: model is required", name)
	}

	opts := ModelAgentOptions{
		Instruction:        NewInstructionFromText(fmt.Sprintf("You are %s. Use the available tools to complete the request.", name)),
		EnableStreaming:    true,
		MaxHistoryMessages: 20,
		Metrics:            metrics.NopRecorder{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	tools, err := tool.NewSet(opts.Tools...)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", name, err)
	}

	a := &ModelAgent{
		BaseAgent:          NewBaseAgent(name),
		llm:                llm,
		instruction:        opts.Instruction,
		tools:              tools,
		enableStreaming:    opts.EnableStreaming,
		maxHistoryMessages: opts.MaxHistoryMessages,
		outputKey:          opts.OutputKey,
	}
	a.bind(a)

	if opts.Description != "" {
		a.SetDescription(opts.Description)
	}

	a.flow = flow.New(a, func(o *flow.Options) {
		o.Metrics = opts.Metrics
		if opts.RecallLimit > 0 {
			o.Processors = append(o.Processors, flow.NewRecallProcessor(opts.RecallLimit))
		}
	})

	return a, nil
}

// Model returns the reasoning capability.
func (a *ModelAgent) Model() model.Model { return a.llm }

// Tools returns the agent's tools.
func (a *ModelAgent) Tools() *tool.Set { return a.tools }

// IsStreamingEnabled reports whether partial model output is requested.
func (a *ModelAgent) IsStreamingEnabled() bool { return a.enableStreaming }

// MaxHistoryMessages bounds the history sent to the model.
func (a *ModelAgent) MaxHistoryMessages() int { return a.maxHistoryMessages }

// OutputKey is the session state key the final answer is saved under.
func (a *ModelAgent) OutputKey() string { return a.outputKey }

// ResolveInstructions produces the system prompt for this run.
func (a *ModelAgent) ResolveInstructions(runCtx *core.RunContext) (string, error) {
	return a.instruction.Resolve(runCtx)
}

// Run implements core.Agent.
func (a *ModelAgent) Run(runCtx *core.RunContext) error {
	ctx, span := tracer.Start(runCtx.Context, "agent.run", trace.WithAttributes(
		attribute.String("agent", a.Name()),
		attribute.String("run_id", runCtx.RunID),
		attribute.String("session_id", runCtx.SessionKey.ID),
	))
	defer span.End()

	runCtx = runCtx.WithContext(ctx)

	runCtx.LogDebug("agent.run.start", "agent", a.Name())

	if err := a.flow.Execute(runCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		runCtx.LogError("agent.run.error", "agent", a.Name(), "error", err.Error())

		return err
	}

	runCtx.LogDebug("agent.run.complete", "agent", a.Name())

	return nil
}
