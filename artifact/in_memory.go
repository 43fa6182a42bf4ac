package artifact

import (
	"context"
	"slices"
	"sync"

	"github.com/hupe1980/pdlcmesh/core"
)

// InMemoryStore keeps every saved version of an artifact in process memory.
// Get returns the latest version; Version returns older ones. Data is copied
// on save and on retrieval.
type InMemoryStore struct {
	mu        sync.RWMutex
	artifacts map[core.SessionKey]map[string][][]byte
}

// NewInMemoryStore returns an empty in-memory artifact store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{artifacts: make(map[core.SessionKey]map[string][][]byte)}
}

// Save stores a new version of the artifact.
func (a *InMemoryStore) Save(_ context.Context, key core.SessionKey, artifactID string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, ok := a.artifacts[key]
	if !ok {
		m = make(map[string][][]byte)
		a.artifacts[key] = m
	}

	m[artifactID] = append(m[artifactID], slices.Clone(data))

	return nil
}

// Get returns the latest version of the artifact or ErrNotFound.
func (a *InMemoryStore) Get(_ context.Context, key core.SessionKey, artifactID string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	versions := a.artifacts[key][artifactID]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}

	return slices.Clone(versions[len(versions)-1]), nil
}

// Version returns a specific zero-based version of the artifact.
func (a *InMemoryStore) Version(key core.SessionKey, artifactID string, version int) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	versions := a.artifacts[key][artifactID]
	if version < 0 || version >= len(versions) {
		return nil, ErrNotFound
	}

	return slices.Clone(versions[version]), nil
}

// Versions reports how many versions of the artifact exist.
func (a *InMemoryStore) Versions(key core.SessionKey, artifactID string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return len(a.artifacts[key][artifactID])
}

// List returns the sorted artifact ids stored for the session.
func (a *InMemoryStore) List(_ context.Context, key core.SessionKey) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ids := make([]string, 0, len(a.artifacts[key]))
	for id := range a.artifacts[key] {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids, nil
}

// Delete removes all versions of the artifact or returns ErrNotFound.
func (a *InMemoryStore) Delete(_ context.Context, key core.SessionKey, artifactID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, ok := a.artifacts[key]
	if !ok {
		return ErrNotFound
	}

	if _, ok := m[artifactID]; !ok {
		return ErrNotFound
	}

	delete(m, artifactID)

	return nil
}
