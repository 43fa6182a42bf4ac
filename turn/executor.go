package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/pdlcmesh/core"
	"github.com/hupe1980/pdlcmesh/logging"
	"github.com/hupe1980/pdlcmesh/metrics"
	"github.com/hupe1980/pdlcmesh/runner"
	"github.com/hupe1980/pdlcmesh/session"
)

var tracer = otel.Tracer("github.com/hupe1980/pdlcmesh/turn")

// Options configure an Executor.
type Options struct {
	// AppName scopes sessions; defaults to the agent name.
	AppName       string
	SessionStore  core.SessionStore
	ArtifactStore core.ArtifactStore
	MemoryStore   core.MemoryStore
	Locker        session.Locker
	Logger        logging.Logger
	Metrics       metrics.Recorder
	// MaxModelCalls bounds model calls per turn (0 = unlimited).
	MaxModelCalls   int
	EventBufferSize int
	// RememberTurns stores each completed text turn in the memory store.
	RememberTurns bool
	// StatusText renders the progress text of non-terminal updates.
	StatusText func(agent string) string
}

// Executor runs turns against one agent. It is safe for concurrent use;
// turns of the same session are serialized.
type Executor struct {
	agent  core.Agent
	runner *runner.Runner
	opts   Options
}

var _ core.TurnExecutor = (*Executor)(nil)

// New creates an Executor for a.
func New(a core.Agent, optFns ...func(o *Options)) *Executor {
	opts := Options{
		AppName:         a.Name(),
		Locker:          session.NewLocalLocker(),
		Logger:          logging.NoOpLogger{},
		Metrics:         metrics.NopRecorder{},
		MaxModelCalls:   25,
		EventBufferSize: 100,
		RememberTurns:   true,
		StatusText: func(agent string) string {
			return fmt.Sprintf("Processing the %s request...", agent)
		},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	r := runner.New(a, func(o *runner.Options) {
		o.SessionStore = opts.SessionStore
		o.ArtifactStore = opts.ArtifactStore
		o.MemoryStore = opts.MemoryStore
		o.Logger = opts.Logger
		o.MaxModelCalls = opts.MaxModelCalls
		o.EventBufferSize = opts.EventBufferSize
	})

	opts.SessionStore = r.SessionStore()
	opts.MemoryStore = r.MemoryStore()

	return &Executor{agent: a, runner: r, opts: opts}
}

// Agent returns the agent the executor drives.
func (e *Executor) Agent() core.Agent { return e.agent }

// SessionStore returns the store the executor keeps sessions in.
func (e *Executor) SessionStore() core.SessionStore { return e.opts.SessionStore }

// SessionKey returns the key of the session sessionID refers to.
func (e *Executor) SessionKey(sessionID string) core.SessionKey {
	return core.SessionKey{AppName: e.opts.AppName, ID: sessionID}
}

// Invoke runs the turn to completion. A structured final result has no
// textual parts and yields "".
func (e *Executor) Invoke(ctx context.Context, query, sessionID string) (string, error) {
	var terminal core.TurnUpdate

	for u := range e.Stream(ctx, query, sessionID) {
		if u.Complete {
			terminal = u
		}
	}

	if terminal.Err != nil {
		return "", terminal.Err
	}

	text, _ := terminal.Text()

	return text, nil
}

// Stream runs the turn lazily. Breaking out of the range loop cancels the
// run; identifiers issued before that stay valid.
func (e *Executor) Stream(ctx context.Context, query, sessionID string) iter.Seq[core.TurnUpdate] {
	return func(yield func(core.TurnUpdate) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		key := e.SessionKey(sessionID)
		name := e.agent.Name()
		start := time.Now()
		outcome := metrics.OutcomeOK

		ctx, span := tracer.Start(ctx, "turn", trace.WithAttributes(
			attribute.String("agent", name),
			attribute.String("session_id", sessionID),
		))

		defer func() {
			span.SetAttributes(attribute.String("outcome", outcome))
			span.End()
			e.opts.Metrics.TurnCompleted(name, outcome, time.Since(start))
		}()

		fail := func(err error) {
			outcome = metrics.OutcomeError
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.opts.Logger.Error("turn.failed", "agent", name, "session_id", sessionID, "error", err.Error())
			yield(core.TurnUpdate{Complete: true, Content: "", Author: name, Err: err})
		}

		unlock, err := e.opts.Locker.Lock(ctx, key.String())
		if err != nil {
			fail(fmt.Errorf("lock session: %w", err))
			return
		}
		defer unlock()

		if err := e.ensureSession(ctx, key); err != nil {
			fail(err)
			return
		}

		e.opts.Logger.Info("turn.start", "agent", name, "session_id", sessionID)

		_, events, errs, err := e.runner.Run(ctx, key, core.NewTextContent("user", query))
		if err != nil {
			fail(err)
			return
		}

		abandon := func() {
			outcome = metrics.OutcomeAbandoned
			cancel()
			for range events {
			}
			<-errs
			e.opts.Logger.Info("turn.abandoned", "agent", name, "session_id", sessionID)
		}

		var final *core.Event

		for ev := range events {
			if !ev.IsPartial() && ev.IsFinalResponse() {
				if final != nil && !yield(e.statusUpdate(*final)) {
					abandon()
					return
				}
				held := ev
				final = &held
				continue
			}

			if !yield(e.statusUpdate(ev)) {
				abandon()
				return
			}
		}

		if err := <-errs; err != nil {
			fail(err)
			return
		}

		terminal := core.TurnUpdate{Complete: true, Content: "", Author: name}
		if final != nil {
			terminal.Content = content(*final)
			terminal.Author = final.Author
		}

		if text, ok := terminal.Text(); ok && text != "" && e.opts.RememberTurns {
			e.remember(key, query, text)
		}

		e.opts.Logger.Info("turn.complete", "agent", name, "session_id", sessionID, "duration_ms", time.Since(start).Milliseconds())

		yield(terminal)
	}
}

// ensureSession creates the session with empty state on first reference.
func (e *Executor) ensureSession(ctx context.Context, key core.SessionKey) error {
	_, err := e.opts.SessionStore.Get(ctx, key)
	if err == nil {
		return nil
	}

	if !errors.Is(err, core.ErrSessionNotFound) {
		return fmt.Errorf("get session: %w", err)
	}

	if _, err := e.opts.SessionStore.Create(ctx, key, map[string]any{}); err != nil && !errors.Is(err, core.ErrSessionExists) {
		return fmt.Errorf("create session: %w", err)
	}

	e.opts.Logger.Debug("turn.session.created", "agent", e.agent.Name(), "session_id", key.ID)

	return nil
}

func (e *Executor) remember(key core.SessionKey, query, answer string) {
	if e.opts.MemoryStore == nil {
		return
	}

	err := e.opts.MemoryStore.Store(key.String(), fmt.Sprintf("user: %s\nassistant: %s", query, answer), map[string]any{
		"agent": e.agent.Name(),
	})
	if err != nil {
		e.opts.Logger.Warn("turn.remember.failed", "agent", e.agent.Name(), "session_id", key.ID, "error", err.Error())
	}
}

// statusUpdate maps a non-terminal event onto a progress update.
func (e *Executor) statusUpdate(ev core.Event) core.TurnUpdate {
	status := e.opts.StatusText(e.agent.Name())

	if s, ok := ev.CustomMetadata[core.MetadataStatus]; ok && s != "" {
		status = s
	} else if calls := ev.GetFunctionCalls(); len(calls) > 0 && !ev.IsPartial() {
		status = fmt.Sprintf("Calling %s...", calls[0].Name)
	}

	return core.TurnUpdate{Complete: false, Status: status, Author: ev.Author}
}

// content extracts the terminal payload: joined text when any text part is
// present, otherwise the first data part or function response payload.
func content(ev core.Event) any {
	if text := ev.Text(); text != "" {
		return text
	}

	if ev.Content == nil {
		return ""
	}

	for _, p := range ev.Content.Parts {
		switch part := p.(type) {
		case core.DataPart:
			return part.Data
		case core.FunctionResponsePart:
			if part.FunctionResponse.Error != "" && part.FunctionResponse.Response == nil {
				return map[string]any{"error": part.FunctionResponse.Error}
			}
			return structured(part.FunctionResponse.Response)
		}
	}

	return ""
}

func structured(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any:
		return t
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return string(b)
	}

	return m
}
