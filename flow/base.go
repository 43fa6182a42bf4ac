package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/pdlcmesh/core"
	"github.com/hupe1980/pdlcmesh/metrics"
	"github.com/hupe1980/pdlcmesh/model"
)

var tracer = otel.Tracer("github.com/hupe1980/pdlcmesh/flow")

// Options configure a BaseFlow.
type Options struct {
	Processors []RequestProcessor
	Executor   FunctionExecutor
	Metrics    metrics.Recorder
}

// BaseFlow is the request -> model -> (tools -> model)* loop of a leaf agent.
type BaseFlow struct {
	agent      FlowAgent
	processors []RequestProcessor
	executor   FunctionExecutor
}

// New creates a flow with the default instructions and contents processors.
func New(agent FlowAgent, optFns ...func(o *Options)) *BaseFlow {
	opts := Options{
		Processors: []RequestProcessor{NewInstructionsProcessor(), NewContentsProcessor()},
		Metrics:    metrics.NopRecorder{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Executor == nil {
		opts.Executor = NewParallelFunctionExecutor(FunctionExecutorConfig{
			PreserveOrder: true,
			Metrics:       opts.Metrics,
		})
	}

	return &BaseFlow{
		agent:      agent,
		processors: opts.Processors,
		executor:   opts.Executor,
	}
}

// AddRequestProcessor appends a request processor; registration order is execution order.
func (f *BaseFlow) AddRequestProcessor(p RequestProcessor) {
	f.processors = append(f.processors, p)
}

// Execute runs model turns until a final response is emitted. Model errors,
// processor errors and limiter violations end the run with an error.
func (f *BaseFlow) Execute(runCtx *core.RunContext) error {
	for {
		done, err := f.step(runCtx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// step performs one model call and executes the tools it requested.
func (f *BaseFlow) step(runCtx *core.RunContext) (bool, error) {
	if err := runCtx.Limiter.Increment(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrModelCallLimit, err)
	}

	if runCtx.SessionStore != nil {
		if err := runCtx.RefreshSession(); err != nil {
			runCtx.LogWarn("flow.session.refresh_failed", "agent", f.agent.Name(), "error", err.Error())
		}
	}

	req := model.Request{Stream: f.agent.IsStreamingEnabled()}
	for _, p := range f.processors {
		if err := p.ProcessRequest(runCtx, &req, f.agent); err != nil {
			return false, fmt.Errorf("request processor %s: %w", p.Name(), err)
		}
	}

	for _, t := range f.agent.Tools().List() {
		req.Tools = append(req.Tools, model.NewFunctionDefinition(t.Name(), t.Description(), t.Parameters()))
	}

	final, err := f.callModel(runCtx, req)
	if err != nil {
		return false, err
	}

	calls := final.GetFunctionCalls()
	if len(calls) == 0 {
		if key := f.agent.OutputKey(); key != "" {
			runCtx.SetState(key, final.Text())
		}
	}

	if err := runCtx.EmitAndWait(final); err != nil {
		return false, err
	}

	if len(calls) == 0 {
		return true, nil
	}

	responses := f.executor.Execute(runCtx, f.agent.Name(), f.agent.Tools(), calls, runCtx.EmitAndWait)
	for _, ev := range responses {
		if ev.IsFinalResponse() {
			return true, nil
		}
	}

	return false, runCtx.Err()
}

// callModel streams one model response, emitting partial chunks and
// returning the final event unemitted.
func (f *BaseFlow) callModel(runCtx *core.RunContext, req model.Request) (core.Event, error) {
	ctx, span := tracer.Start(runCtx.Context, "model.generate", trace.WithAttributes(
		attribute.String("agent", f.agent.Name()),
		attribute.String("model", f.agent.Model().Info().Name),
		attribute.Int("tools", len(req.Tools)),
		attribute.Int("call", runCtx.Limiter.Used()),
	))
	defer span.End()

	respCh, errCh := f.agent.Model().Generate(ctx, req)

	var (
		final    *core.Event
		modelErr error
		streamed strings.Builder
	)

	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return core.Event{}, ctx.Err()
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}

			ev := core.NewEvent(runCtx.RunID, f.agent.Name())
			content := resp.Content
			if content.Role == "" {
				content.Role = "assistant"
			}
			ev.Content = &content

			if resp.Partial {
				streamed.WriteString(ev.Text())
				partial := true
				ev.Partial = &partial
				if err := runCtx.EmitEvent(ev); err != nil {
					return core.Event{}, err
				}
				continue
			}

			final = &ev
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil && modelErr == nil {
				modelErr = err
			}
		}
	}

	if modelErr != nil {
		span.RecordError(modelErr)
		span.SetStatus(codes.Error, modelErr.Error())
		runCtx.LogError("flow.model.error", "agent", f.agent.Name(), "error", modelErr.Error())

		if errors.Is(modelErr, context.Canceled) {
			return core.Event{}, modelErr
		}

		return core.Event{}, fmt.Errorf("model %s: %w", f.agent.Model().Info().Name, modelErr)
	}

	if final == nil {
		// A stream that ends without a final response carries whatever
		// text was streamed, possibly none.
		runCtx.LogWarn("flow.model.no_final_response", "agent", f.agent.Name())

		ev := core.NewEvent(runCtx.RunID, f.agent.Name())
		ev.Content = &core.Content{Role: "assistant", Parts: []core.Part{}}
		if text := streamed.String(); text != "" {
			ev.Content.Parts = append(ev.Content.Parts, core.TextPart{Text: text})
		}
		final = &ev
	}

	span.SetAttributes(attribute.Int("function_calls", len(final.GetFunctionCalls())))

	return *final, nil
}
