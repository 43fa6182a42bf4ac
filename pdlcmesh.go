// Package pdlcmesh provides a high-level façade over the PDLC agents
// (SDE, QA and Coordinator) and the services they share (sessions,
// artifacts, memory, identifier registry and logging). Most applications
// interact with this package by:
//  1. Creating a Mesh via New() (optionally overriding the in-memory services)
//  2. Registering the agent kinds they need with a model (Register)
//  3. Running turns (Invoke, Stream) or serving them over HTTP (Handler)
//
// All defaults are safe for local development and testing; production
// deployments typically supply Redis backed stores and a structured logger.
package pdlcmesh

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"sync"

	"github.com/hupe1980/pdlcmesh/a2a"
	"github.com/hupe1980/pdlcmesh/artifact"
	"github.com/hupe1980/pdlcmesh/core"
	"github.com/hupe1980/pdlcmesh/logging"
	"github.com/hupe1980/pdlcmesh/memory"
	"github.com/hupe1980/pdlcmesh/metrics"
	"github.com/hupe1980/pdlcmesh/model"
	"github.com/hupe1980/pdlcmesh/pdlc"
	"github.com/hupe1980/pdlcmesh/pipeline"
	"github.com/hupe1980/pdlcmesh/registry"
	"github.com/hupe1980/pdlcmesh/session"
)

// ErrNotRegistered is returned for agent kinds that were never registered.
var ErrNotRegistered = errors.New("pdlcmesh: agent not registered")

// Options configures the Mesh instance.
type Options struct {
	// Stores (defaults to in-memory implementations if not provided)
	SessionStore  core.SessionStore
	ArtifactStore core.ArtifactStore
	MemoryStore   core.MemoryStore
	Registry      registry.Registry
	Locker        session.Locker

	// Checker validates artifacts in the run stage (defaults to pipeline.StaticChecker).
	Checker pipeline.Checker

	// MaxModelCalls bounds model calls per turn.
	MaxModelCalls int

	// Logger (defaults to NoOp logger if nil)
	Logger  logging.Logger
	Metrics metrics.Recorder
}

// Mesh aggregates the registered agents and the services they share.
type Mesh struct {
	opts Options

	mu       sync.RWMutex
	services map[pdlc.Kind]*pdlc.Service
}

// New creates a new Mesh with optional overrides. Any unset service is
// initialized with an in-memory implementation shared by every agent.
func New(optFns ...func(o *Options)) *Mesh {
	opts := Options{
		SessionStore:  session.NewInMemoryStore(),
		ArtifactStore: artifact.NewInMemoryStore(),
		MemoryStore:   memory.NewInMemoryStore(),
		Locker:        session.NewLocalLocker(),
		Checker:       pipeline.StaticChecker{},
		MaxModelCalls: 25,
		Logger:        logging.NoOpLogger{},
		Metrics:       metrics.NopRecorder{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Registry == nil {
		opts.Registry = registry.NewMemory(func(o *registry.MemoryOptions) {
			o.Logger = opts.Logger
			o.Metrics = opts.Metrics
		})
	}

	return &Mesh{opts: opts, services: make(map[pdlc.Kind]*pdlc.Service)}
}

// Register builds the agent of the given kind on llm. Registering a kind
// again replaces the previous agent.
func (m *Mesh) Register(kind pdlc.Kind, llm model.Model) (*pdlc.Service, error) {
	svc, err := pdlc.New(kind, llm, func(o *pdlc.Options) {
		o.SessionStore = m.opts.SessionStore
		o.ArtifactStore = m.opts.ArtifactStore
		o.MemoryStore = m.opts.MemoryStore
		o.Registry = m.opts.Registry
		o.Locker = m.opts.Locker
		o.Checker = m.opts.Checker
		o.MaxModelCalls = m.opts.MaxModelCalls
		o.Logger = m.opts.Logger
		o.Metrics = m.opts.Metrics
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.services[kind] = svc
	m.mu.Unlock()

	return svc, nil
}

// Service returns the registered agent of kind.
func (m *Mesh) Service(kind pdlc.Kind) (*pdlc.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	svc, ok := m.services[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, kind)
	}

	return svc, nil
}

// Invoke runs one turn to completion and returns the final text.
func (m *Mesh) Invoke(ctx context.Context, kind pdlc.Kind, query, sessionID string) (string, error) {
	svc, err := m.Service(kind)
	if err != nil {
		return "", err
	}

	return svc.Turns.Invoke(ctx, query, sessionID)
}

// Stream runs one turn lazily. An unregistered kind yields a single failed
// terminal update.
func (m *Mesh) Stream(ctx context.Context, kind pdlc.Kind, query, sessionID string) iter.Seq[core.TurnUpdate] {
	svc, err := m.Service(kind)
	if err != nil {
		return func(yield func(core.TurnUpdate) bool) {
			yield(core.TurnUpdate{Complete: true, Content: "", Err: err})
		}
	}

	return svc.Turns.Stream(ctx, query, sessionID)
}

// Handler serves the registered agent of kind over HTTP.
func (m *Mesh) Handler(kind pdlc.Kind, baseURL string, optFns ...func(o *a2a.Options)) (http.Handler, error) {
	svc, err := m.Service(kind)
	if err != nil {
		return nil, err
	}

	logger := m.opts.Logger

	return a2a.NewServer(svc.Card(baseURL), svc.Turns, append([]func(o *a2a.Options){
		func(o *a2a.Options) { o.Logger = logger },
	}, optFns...)...), nil
}
