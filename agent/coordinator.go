package agent

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/pdlcmesh/core"
	"github.com/hupe1980/pdlcmesh/metrics"
)

var (
	// ErrNoDelegates is returned when a coordinator is built without children.
	ErrNoDelegates = errors.New("coordinator requires at least one delegate")
	// ErrUnknownDelegate is returned when a router picks a name that is not a child.
	ErrUnknownDelegate = errors.New("unknown delegate")
)

// Delegate pairs a child agent with the TurnExecutor that runs its turns.
type Delegate struct {
	Agent core.Agent
	Turns core.TurnExecutor
}

// Coordinator is an interior node: it owns no tools and satisfies each turn
// by forwarding the whole query to exactly one delegate, relaying the
// delegate's updates unchanged.
type Coordinator struct {
	BaseAgent

	router    Router
	delegates map[string]Delegate
	order     []string
	metrics   metrics.Recorder
}

// NewCoordinator builds a coordinator. It fails with ErrNoDelegates when
// delegates is empty and validates the resulting tree.
func NewCoordinator(name string, router Router, delegates ...Delegate) (*Coordinator, error) {
	if len(delegates) == 0 {
		return nil, fmt.Errorf("coordinator %s: %w", name, ErrNoDelegates)
	}

	if router == nil {
		return nil, fmt.Errorf("coordinator %s: router is required", name)
	}

	c := &Coordinator{
		BaseAgent: NewBaseAgent(name),
		router:    router,
		delegates: make(map[string]Delegate, len(delegates)),
		metrics:   metrics.NopRecorder{},
	}
	c.bind(c)

	children := make([]core.Agent, 0, len(delegates))
	for _, d := range delegates {
		if d.Agent == nil || d.Turns == nil {
			return nil, fmt.Errorf("coordinator %s: delegate needs an agent and a turn executor", name)
		}
		if _, dup := c.delegates[d.Agent.Name()]; dup {
			return nil, fmt.Errorf("coordinator %s: delegate %q: %w", name, d.Agent.Name(), ErrDuplicateAgent)
		}
		c.delegates[d.Agent.Name()] = d
		c.order = append(c.order, d.Agent.Name())
		children = append(children, d.Agent)
	}

	if err := c.SetSubAgents(children...); err != nil {
		return nil, err
	}

	if err := ValidateTree(c); err != nil {
		return nil, err
	}

	return c, nil
}

// SetMetrics sets the recorder for delegation counts.
func (c *Coordinator) SetMetrics(m metrics.Recorder) {
	if m == nil {
		m = metrics.NopRecorder{}
	}
	c.metrics = m
}

// Candidates lists the delegates in declaration order.
func (c *Coordinator) Candidates() []Candidate {
	out := make([]Candidate, 0, len(c.order))
	for _, n := range c.order {
		d := c.delegates[n]
		out = append(out, Candidate{Name: n, Description: d.Agent.Description()})
	}
	return out
}

// Run routes the turn and relays the chosen delegate's stream.
func (c *Coordinator) Run(runCtx *core.RunContext) error {
	ctx, span := tracer.Start(runCtx.Context, "coordinator.route", trace.WithAttributes(
		attribute.String("agent", c.Name()),
		attribute.String("session_id", runCtx.SessionKey.ID),
	))
	defer span.End()

	query := runCtx.UserText()

	history := make([]core.Content, 0)
	for _, ev := range runCtx.GetSessionHistory() {
		if ev.Content == nil {
			continue
		}
		history = append(history, *ev.Content)
	}

	decision, err := c.router.Route(ctx, RouteRequest{
		Coordinator: c.Name(),
		Query:       query,
		Candidates:  c.Candidates(),
		History:     history,
	})
	if err != nil {
		return c.fail(runCtx, span, err)
	}

	if decision.Agent == "" {
		if decision.Clarification == "" {
			return c.fail(runCtx, span, ErrNoDecision)
		}

		runCtx.LogInfo("coordinator.clarify", "agent", c.Name(), "session_id", runCtx.SessionKey.ID)
		span.SetAttributes(attribute.Bool("clarification", true))

		return runCtx.EmitAndWait(core.NewMessageEvent(runCtx.RunID, c.Name(), decision.Clarification))
	}

	d, ok := c.delegates[decision.Agent]
	if !ok {
		return c.fail(runCtx, span, fmt.Errorf("%w %q", ErrUnknownDelegate, decision.Agent))
	}

	span.SetAttributes(attribute.String("delegate", decision.Agent))
	c.metrics.Delegated(c.Name(), decision.Agent)
	runCtx.LogInfo("coordinator.delegate", "agent", c.Name(), "delegate", decision.Agent, "session_id", runCtx.SessionKey.ID)

	for u := range d.Turns.Stream(ctx, query, runCtx.SessionKey.ID) {
		if !u.Complete {
			ev := core.NewEvent(runCtx.RunID, decision.Agent)
			partial := true
			ev.Partial = &partial
			ev.CustomMetadata = map[string]string{core.MetadataStatus: u.Status}
			if err := runCtx.EmitEvent(ev); err != nil {
				return err
			}
			continue
		}

		if u.Err != nil {
			return c.fail(runCtx, span, fmt.Errorf("delegate %s: %w", decision.Agent, u.Err))
		}

		return runCtx.EmitAndWait(relayEvent(runCtx.RunID, decision.Agent, u))
	}

	if err := runCtx.Err(); err != nil {
		return err
	}

	return c.fail(runCtx, span, fmt.Errorf("delegate %s: stream ended without a terminal update", decision.Agent))
}

func (c *Coordinator) fail(runCtx *core.RunContext, span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	runCtx.LogError("coordinator.error", "agent", c.Name(), "error", err.Error())
	return err
}

// relayEvent turns a delegate's terminal update into the coordinator's final event.
func relayEvent(runID, author string, u core.TurnUpdate) core.Event {
	if data, ok := u.Structured(); ok {
		return core.NewDataEvent(runID, author, data)
	}

	text, _ := u.Text()
	ev := core.NewEvent(runID, author)
	ev.Content = &core.Content{Role: "assistant", Parts: []core.Part{}}
	if text != "" {
		ev.Content.Parts = append(ev.Content.Parts, core.TextPart{Text: text})
	}

	return ev
}
