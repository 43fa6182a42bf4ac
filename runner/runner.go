package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/pdlcmesh/artifact"
	"github.com/hupe1980/pdlcmesh/core"
	"github.com/hupe1980/pdlcmesh/logging"
	"github.com/hupe1980/pdlcmesh/memory"
	"github.com/hupe1980/pdlcmesh/session"
)

// ErrRunNotFound is returned by Cancel for unknown or finished runs.
var ErrRunNotFound = errors.New("run not found")

// Options holds dependency and configuration overrides passed to New.
type Options struct {
	// MaxConcurrentRuns limits runs in flight; Run waits for a free slot.
	MaxConcurrentRuns int
	// EventBufferSize sets channel buffering for events.
	EventBufferSize int
	// MaxModelCalls limits the number of model calls per run (0 = unlimited).
	MaxModelCalls int
	SessionStore  core.SessionStore
	ArtifactStore core.ArtifactStore
	MemoryStore   core.MemoryStore
	Logger        logging.Logger
}

// Runner executes one agent run at a time per call: it appends the user
// message, runs the agent, persists every non-partial event and its state
// delta, and streams events to the caller. Public methods are safe for
// concurrent use.
type Runner struct {
	agent core.Agent
	opts  Options
	slots chan struct{}

	activeRuns map[string]context.CancelFunc
	mu         sync.Mutex
}

// New constructs a Runner with optional overrides.
func New(agent core.Agent, optFns ...func(o *Options)) *Runner {
	opts := Options{
		MaxConcurrentRuns: 64,
		EventBufferSize:   100,
		MaxModelCalls:     25,
		Logger:            logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.SessionStore == nil {
		opts.SessionStore = session.NewInMemoryStore()
	}
	if opts.ArtifactStore == nil {
		opts.ArtifactStore = artifact.NewInMemoryStore()
	}
	if opts.MemoryStore == nil {
		opts.MemoryStore = memory.NewInMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	var slots chan struct{}
	if opts.MaxConcurrentRuns > 0 {
		slots = make(chan struct{}, opts.MaxConcurrentRuns)
	}

	return &Runner{
		agent:      agent,
		opts:       opts,
		slots:      slots,
		activeRuns: make(map[string]context.CancelFunc),
	}
}

// Agent returns the agent this runner executes.
func (r *Runner) Agent() core.Agent { return r.agent }

// SessionStore returns the store sessions are persisted in.
func (r *Runner) SessionStore() core.SessionStore { return r.opts.SessionStore }

// MemoryStore returns the store recall memories are written to.
func (r *Runner) MemoryStore() core.MemoryStore { return r.opts.MemoryStore }

// Run starts an asynchronous run against an existing session. Events are
// delivered in emission order; the events channel is closed when the run
// ends, after which the errors channel yields at most one error.
func (r *Runner) Run(
	ctx context.Context,
	key core.SessionKey,
	userContent core.Content,
) (string, <-chan core.Event, <-chan error, error) {
	if r.slots != nil {
		select {
		case <-ctx.Done():
			return "", nil, nil, ctx.Err()
		case r.slots <- struct{}{}:
		}
	}

	release := func() {
		if r.slots != nil {
			<-r.slots
		}
	}

	sess, err := r.opts.SessionStore.Get(ctx, key)
	if err != nil {
		release()
		return "", nil, nil, fmt.Errorf("get session: %w", err)
	}

	runID := core.NewID()

	userEvent := core.NewUserContentEvent(runID, &userContent)
	if err := r.opts.SessionStore.AppendEvent(ctx, key, userEvent); err != nil {
		release()
		return "", nil, nil, fmt.Errorf("append user event: %w", err)
	}
	sess.AddEvent(userEvent)

	eventsCh := make(chan core.Event, r.opts.EventBufferSize)
	errorsCh := make(chan error, 1)
	agentEmit := make(chan core.Event, r.opts.EventBufferSize)
	resumeCh := make(chan struct{}, 1)
	agentErr := make(chan error, 1)

	ctx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.activeRuns[runID] = cancel
	r.mu.Unlock()

	runCtx := core.NewRunContext(
		ctx,
		key,
		runID,
		core.AgentInfo{Name: r.agent.Name(), Type: fmt.Sprintf("%T", r.agent)},
		userContent,
		agentEmit,
		resumeCh,
		sess,
		core.RunContextOptions{
			MaxModelCalls: r.opts.MaxModelCalls,
			SessionStore:  r.opts.SessionStore,
			ArtifactStore: r.opts.ArtifactStore,
			MemoryStore:   r.opts.MemoryStore,
			Logger:        r.opts.Logger,
		},
	)

	go func() {
		defer close(agentEmit)
		agentErr <- r.runAgent(runCtx)
	}()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.activeRuns, runID)
			r.mu.Unlock()
			cancel()
			release()
			close(eventsCh)
			close(errorsCh)
		}()

		if err := r.processEvents(ctx, key, agentEmit, resumeCh, eventsCh); err != nil {
			cancel()
			errorsCh <- err
			return
		}

		if err := <-agentErr; err != nil {
			errorsCh <- fmt.Errorf("agent execution failed: %w", err)
		}
	}()

	return runID, eventsCh, errorsCh, nil
}

// Cancel cancels a running run by ID.
func (r *Runner) Cancel(runID string) error {
	r.mu.Lock()
	cancel, exists := r.activeRuns[runID]
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}

	cancel()

	return nil
}

// ActiveRuns returns the number of runs in flight.
func (r *Runner) ActiveRuns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.activeRuns)
}

func (r *Runner) runAgent(runCtx *core.RunContext) error {
	if err := r.agent.Start(runCtx); err != nil {
		return err
	}

	defer func() {
		if err := r.agent.Stop(runCtx); err != nil {
			r.opts.Logger.Warn("runner.agent.stop_failed", "agent", r.agent.Name(), "error", err.Error())
		}
	}()

	return r.agent.Run(runCtx)
}

// processEvents persists and forwards agent events until the agent closes
// its emit channel (nil) or the run is cancelled (ctx error).
func (r *Runner) processEvents(
	ctx context.Context,
	key core.SessionKey,
	agentEmit <-chan core.Event,
	resumeCh chan<- struct{},
	eventsCh chan<- core.Event,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-agentEmit:
			if !ok {
				return nil
			}

			if !ev.IsPartial() {
				if err := r.persist(ctx, key, ev); err != nil {
					return err
				}
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case eventsCh <- ev:
				r.opts.Logger.Debug("runner.event.delivered", "event_id", ev.ID, "session_id", key.ID)
			}

			if !ev.IsPartial() {
				select {
				case resumeCh <- struct{}{}:
				default:
				}
			}
		}
	}
}

func (r *Runner) persist(ctx context.Context, key core.SessionKey, ev core.Event) error {
	if len(ev.Actions.StateDelta) > 0 {
		if err := r.opts.SessionStore.ApplyDelta(ctx, key, ev.Actions.StateDelta); err != nil {
			return fmt.Errorf("apply state delta: %w", err)
		}
	}

	if err := r.opts.SessionStore.AppendEvent(ctx, key, ev); err != nil {
		return fmt.Errorf("append event to session: %w", err)
	}

	if len(ev.Actions.ArtifactDelta) > 0 {
		r.opts.Logger.Debug("runner.event.artifacts", "session_id", key.ID, "count", len(ev.Actions.ArtifactDelta))
	}

	if ev.Actions.TransferToAgent != nil && *ev.Actions.TransferToAgent != "" {
		r.opts.Logger.Debug("runner.event.transfer_to_agent", "target", *ev.Actions.TransferToAgent, "session_id", key.ID)
	}

	return nil
}
