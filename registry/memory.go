package registry

import (
	"context"
	"sync"

	"github.com/hupe1980/pdlcmesh/logging"
	"github.com/hupe1980/pdlcmesh/metrics"
)

// MemoryOptions configures a MemoryRegistry.
type MemoryOptions struct {
	Options
	Logger  logging.Logger
	Metrics metrics.Recorder
}

// MemoryRegistry is a process-local Registry. A single mutex guards all
// namespaces; no operation performs I/O, so Issue never fails for a known
// namespace.
type MemoryRegistry struct {
	mu      sync.Mutex
	ids     map[Namespace]map[string]struct{}
	counter int64
	opts    MemoryOptions
}

// NewMemory creates an empty MemoryRegistry.
func NewMemory(optFns ...func(o *MemoryOptions)) *MemoryRegistry {
	opts := MemoryOptions{
		Options: defaultOptions(),
		Logger:  logging.NoOpLogger{},
		Metrics: metrics.NopRecorder{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &MemoryRegistry{
		ids: map[Namespace]map[string]struct{}{
			TaskNamespace:   {},
			QATaskNamespace: {},
		},
		counter: counterBase,
		opts:    opts,
	}
}

// Issue returns a fresh identifier in ns.
func (r *MemoryRegistry) Issue(_ context.Context, ns Namespace) (string, error) {
	if !ns.Valid() {
		return "", ErrUnknownNamespace
	}

	r.mu.Lock()
	set := r.ids[ns]
	id := r.nextLocked(ns, set)
	set[id] = struct{}{}
	r.mu.Unlock()

	r.opts.Logger.Debug("registry.issue", "namespace", string(ns), "id", id)
	r.opts.Metrics.IdentifierIssued(string(ns))

	return id, nil
}

func (r *MemoryRegistry) nextLocked(ns Namespace, set map[string]struct{}) string {
	for i := 0; i < r.opts.MaxDraws; i++ {
		id := format(ns, r.opts.Draw())
		if _, taken := set[id]; !taken {
			return id
		}
	}

	for {
		r.counter++
		id := format(ns, r.counter)
		if _, taken := set[id]; !taken {
			return id
		}
	}
}

// Validate reports whether id is currently valid in ns.
func (r *MemoryRegistry) Validate(_ context.Context, ns Namespace, id string) (bool, error) {
	if !ns.Valid() {
		return false, ErrUnknownNamespace
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.ids[ns][id]

	return ok, nil
}

// Revoke removes id from ns.
func (r *MemoryRegistry) Revoke(_ context.Context, ns Namespace, id string) error {
	if !ns.Valid() {
		return ErrUnknownNamespace
	}

	r.mu.Lock()
	delete(r.ids[ns], id)
	r.mu.Unlock()

	r.opts.Logger.Debug("registry.revoke", "namespace", string(ns), "id", id)

	return nil
}

// Count returns the number of valid identifiers in ns.
func (r *MemoryRegistry) Count(_ context.Context, ns Namespace) (int, error) {
	if !ns.Valid() {
		return 0, ErrUnknownNamespace
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.ids[ns]), nil
}
