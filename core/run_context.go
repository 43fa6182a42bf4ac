package core

import (
	"context"
	"errors"
	"maps"

	"github.com/hupe1980/pdlcmesh/logging"
)

var (
	errNoArtifactStore = errors.New("artifact store not configured")
	errNoMemoryStore   = errors.New("memory store not configured")
	errNoSessionStore  = errors.New("session store not configured")
)

// RunContext carries execution state & helpers for one agent run. It
// aggregates:
//   - The ambient cancellation Context
//   - Identifiers (SessionKey, RunID, Agent info)
//   - Input user Content
//   - Emission / resumption coordination channels
//   - Backing stores (session, artifact, memory)
//   - A working Session snapshot and pending StateDelta / Artifacts to commit
//
// State mutations performed via SetState accumulate in StateDelta until
// CommitStateDelta or EmitEvent applies them.
type RunContext struct {
	Context       context.Context
	SessionKey    SessionKey
	RunID         string
	Agent         AgentInfo
	UserContent   Content
	Emit          chan<- Event
	Resume        <-chan struct{}
	SessionStore  SessionStore
	ArtifactStore ArtifactStore
	MemoryStore   MemoryStore
	Limiter       *ModelLimiter
	Session       *Session
	StateDelta    map[string]any
	Artifacts     []string

	*loggerAdapter
}

// RunContextOptions groups the optional collaborators of a RunContext.
type RunContextOptions struct {
	MaxModelCalls int
	SessionStore  SessionStore
	ArtifactStore ArtifactStore
	MemoryStore   MemoryStore
	Logger        logging.Logger
}

// NewRunContext constructs a RunContext with empty state and artifact deltas.
func NewRunContext(
	ctx context.Context,
	key SessionKey,
	runID string,
	agent AgentInfo,
	userContent Content,
	emit chan<- Event,
	resume <-chan struct{},
	sess *Session,
	opts RunContextOptions,
) *RunContext {
	return &RunContext{
		Context:       ctx,
		SessionKey:    key,
		RunID:         runID,
		Agent:         agent,
		UserContent:   userContent,
		Emit:          emit,
		Resume:        resume,
		Session:       sess,
		SessionStore:  opts.SessionStore,
		ArtifactStore: opts.ArtifactStore,
		MemoryStore:   opts.MemoryStore,
		Limiter:       NewModelLimiter(opts.MaxModelCalls),
		StateDelta:    map[string]any{},
		Artifacts:     []string{},
		loggerAdapter: newLoggerAdapter(opts.Logger, "run_id", runID, "session", key.String()),
	}
}

// WithContext returns a shallow copy of rc bound to ctx. The copy shares
// the session, stores, limiter and channels with rc.
func (rc *RunContext) WithContext(ctx context.Context) *RunContext {
	c := *rc
	c.Context = ctx
	return &c
}

// Done returns a channel closed when the underlying context is cancelled.
func (rc *RunContext) Done() <-chan struct{} { return rc.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (rc *RunContext) Err() error { return rc.Context.Err() }

// UserText returns the joined text of the user content.
func (rc *RunContext) UserText() string {
	ev := Event{Content: &rc.UserContent}
	return ev.Text()
}

// GetState returns a staged value if present, else the persisted session value.
func (rc *RunContext) GetState(k string) (any, bool) {
	if v, ok := rc.StateDelta[k]; ok {
		return v, true
	}

	if rc.Session != nil {
		return rc.Session.GetState(k)
	}

	return nil, false
}

// SetState stages a state mutation in the delta buffer.
func (rc *RunContext) SetState(k string, v any) { rc.StateDelta[k] = v }

// SaveArtifact stores bytes in the ArtifactStore and stages the id for the next emitted event.
func (rc *RunContext) SaveArtifact(id string, data []byte) error {
	if rc.ArtifactStore == nil {
		return errNoArtifactStore
	}

	if err := rc.ArtifactStore.Save(rc.Context, rc.SessionKey, id, data); err != nil {
		return err
	}

	rc.Artifacts = append(rc.Artifacts, id)

	return nil
}

// GetArtifact retrieves previously saved artifact bytes.
func (rc *RunContext) GetArtifact(id string) ([]byte, error) {
	if rc.ArtifactStore == nil {
		return nil, errNoArtifactStore
	}

	return rc.ArtifactStore.Get(rc.Context, rc.SessionKey, id)
}

// SearchMemory queries the MemoryStore for relevant content.
func (rc *RunContext) SearchMemory(q string, limit int) ([]SearchResult, error) {
	if rc.MemoryStore == nil {
		return []SearchResult{}, nil
	}

	return rc.MemoryStore.Search(rc.SessionKey.String(), q, limit)
}

// StoreMemory appends content plus metadata to the MemoryStore.
func (rc *RunContext) StoreMemory(content string, md map[string]any) error {
	if rc.MemoryStore == nil {
		return errNoMemoryStore
	}

	return rc.MemoryStore.Store(rc.SessionKey.String(), content, md)
}

// RefreshSession reloads the session snapshot from the SessionStore.
func (rc *RunContext) RefreshSession() error {
	if rc.SessionStore == nil {
		return errNoSessionStore
	}

	s, err := rc.SessionStore.Get(rc.Context, rc.SessionKey)
	if err != nil {
		return err
	}

	rc.Session = s

	return nil
}

// CommitStateDelta persists the accumulated StateDelta then clears the buffer.
func (rc *RunContext) CommitStateDelta() error {
	if len(rc.StateDelta) == 0 {
		return nil
	}

	if rc.SessionStore == nil {
		return errNoSessionStore
	}

	if err := rc.SessionStore.ApplyDelta(rc.Context, rc.SessionKey, rc.StateDelta); err != nil {
		return err
	}

	rc.StateDelta = map[string]any{}

	return nil
}

// GetSessionHistory returns the conversational history of the session snapshot.
func (rc *RunContext) GetSessionHistory() []Event {
	if rc.Session == nil {
		return []Event{}
	}

	return rc.Session.GetConversationHistory()
}

// EmitEvent merges pending StateDelta / Artifacts into the event and emits it.
func (rc *RunContext) EmitEvent(ev Event) error {
	if len(rc.StateDelta) > 0 {
		if ev.Actions.StateDelta == nil {
			ev.Actions.StateDelta = map[string]any{}
		}
		maps.Copy(ev.Actions.StateDelta, rc.StateDelta)
	}

	if len(rc.Artifacts) > 0 {
		if ev.Actions.ArtifactDelta == nil {
			ev.Actions.ArtifactDelta = map[string]int{}
		}
		for _, id := range rc.Artifacts {
			ev.Actions.ArtifactDelta[id] = 1
		}
	}

	select {
	case <-rc.Context.Done():
		return rc.Context.Err()
	case rc.Emit <- ev:
	}

	rc.StateDelta = map[string]any{}
	rc.Artifacts = []string{}

	return nil
}

// WaitForResume blocks until the runner has persisted the last event.
func (rc *RunContext) WaitForResume() error {
	if rc.Resume == nil {
		return nil
	}

	select {
	case <-rc.Resume:
		return nil
	case <-rc.Context.Done():
		return rc.Context.Err()
	}
}

// EmitAndWait emits a non-partial event and waits until it is persisted.
func (rc *RunContext) EmitAndWait(ev Event) error {
	if err := rc.EmitEvent(ev); err != nil {
		return err
	}

	if ev.IsPartial() {
		return nil
	}

	return rc.WaitForResume()
}
