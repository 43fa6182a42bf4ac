package flow

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/pdlcmesh/core"
	"github.com/hupe1980/pdlcmesh/metrics"
	"github.com/hupe1980/pdlcmesh/tool"
)

// FunctionExecutor executes a batch of function calls and emits one function
// response event per call. Implementations must respect cancellation, never
// panic, and apply the ToolContext actions to each response event. Execute
// returns the emitted events.
type FunctionExecutor interface {
	Execute(runCtx *core.RunContext, agent string, tools *tool.Set, calls []core.FunctionCall, emit func(core.Event) error) []core.Event
}

// FunctionExecutorConfig configures the default parallel executor.
type FunctionExecutorConfig struct {
	MaxParallel   int  // <1 means len(calls)
	PreserveOrder bool // emit responses in call order
	Metrics       metrics.Recorder
}

type parallelFunctionExecutor struct {
	cfg FunctionExecutorConfig
}

// NewParallelFunctionExecutor constructs a new executor with the given config.
func NewParallelFunctionExecutor(cfg FunctionExecutorConfig) FunctionExecutor {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NopRecorder{}
	}
	return &parallelFunctionExecutor{cfg: cfg}
}

func (e *parallelFunctionExecutor) Execute(
	runCtx *core.RunContext,
	agent string,
	tools *tool.Set,
	calls []core.FunctionCall,
	emit func(core.Event) error,
) []core.Event {
	n := len(calls)
	if n == 0 {
		return nil
	}

	maxPar := e.cfg.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		emitted []core.Event
	)

	results := make([]*core.Event, n)
	sem := make(chan struct{}, maxPar)

	emitOne := func(ev core.Event, name string) {
		if err := emit(ev); err != nil {
			runCtx.LogError("agent.function.emit.error", "function", name, "error", err.Error())
			return
		}
		emitted = append(emitted, ev)
	}

	for i, fc := range calls {
		if runCtx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}

		go func(idx int, fc core.FunctionCall) {
			defer wg.Done()
			defer func() { <-sem }()

			if runCtx.Err() != nil {
				return
			}

			ev := e.executeOne(runCtx, agent, tools, fc)

			mu.Lock()
			defer mu.Unlock()

			if e.cfg.PreserveOrder {
				results[idx] = &ev
				return
			}

			emitOne(ev, fc.Name)
		}(i, fc)
	}

	wg.Wait()

	if e.cfg.PreserveOrder {
		for i, ev := range results {
			if ev == nil {
				continue
			}
			emitOne(*ev, calls[i].Name)
		}
	}

	return emitted
}

func (e *parallelFunctionExecutor) executeOne(runCtx *core.RunContext, agent string, tools *tool.Set, fc core.FunctionCall) core.Event {
	toolCtx := core.NewToolContext(runCtx, fc.ID)

	_, span := tracer.Start(runCtx.Context, "tool.call", trace.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("tool", fc.Name),
		attribute.String("function_call_id", fc.ID),
	))
	defer span.End()

	start := time.Now()

	var (
		result any
		err    error
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = panicError(r)
				runCtx.LogError("agent.function.panic", "agent", agent, "function", fc.Name, "recover", r)
			}
		}()
		result, err = executeTool(tools, toolCtx, fc.Name, fc.Arguments)
	}()

	dur := time.Since(start)
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var toolErr *tool.ToolError
		if errors.As(err, &toolErr) {
			result = toolErr
		}
	}

	e.cfg.Metrics.ToolCalled(agent, fc.Name, outcome, dur)

	runCtx.LogInfo(
		"agent.function.executed",
		"agent", agent,
		"function", fc.Name,
		"duration_ms", dur.Milliseconds(),
		"error", err != nil,
	)

	ev := core.NewFunctionResponseEvent(runCtx.RunID, agent, fc.ID, fc.Name, result, err)
	toolCtx.ApplyActions(&ev)

	return ev
}

type panicErr struct {
	val   any
	stack []byte
}

func panicError(r any) error { return &panicErr{val: r, stack: debug.Stack()} }

func (p *panicErr) Error() string { return fmt.Sprintf("panic recovered: %v", p.val) }

func executeTool(tools *tool.Set, toolCtx *core.ToolContext, name, args string) (any, error) {
	impl, ok := tools.Get(name)
	if !ok {
		return nil, tool.NewToolError(name, fmt.Sprintf("tool %s not found", name), tool.CodeNotFound)
	}

	argMap := map[string]any{}
	if args != "" {
		if err := json.Unmarshal([]byte(args), &argMap); err != nil {
			return nil, tool.NewToolError(name, fmt.Sprintf("unmarshal args: %v", err), tool.CodeValidation)
		}
	}

	return impl.Call(toolCtx, argMap)
}
