package memory

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/pdlcmesh/core"
)

// ErrNotFound is returned when deleting an unknown memory.
var ErrNotFound = errors.New("memory not found")

type storedMemory struct {
	id       string
	content  string
	metadata map[string]any
}

// InMemoryStore is a process-local MemoryStore. Search scores entries by the
// fraction of query terms they contain (case-insensitive) and returns the
// best matches first; an empty query returns the most recent entries.
type InMemoryStore struct {
	mu      sync.RWMutex
	seq     int
	storage map[string][]storedMemory // sessionID -> entries in insertion order
}

// NewInMemoryStore creates a new in-memory memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{storage: make(map[string][]storedMemory)}
}

// Store appends a memory entry for the session.
func (m *InMemoryStore) Store(sessionID string, content string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	md := make(map[string]any, len(metadata))
	maps.Copy(md, metadata)

	m.storage[sessionID] = append(m.storage[sessionID], storedMemory{
		id:       fmt.Sprintf("mem_%d", m.seq),
		content:  content,
		metadata: md,
	})

	return nil
}

// Search returns up to limit entries matching query.
func (m *InMemoryStore) Search(sessionID string, query string, limit int) ([]core.SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.storage[sessionID]
	terms := strings.Fields(strings.ToLower(query))
	results := make([]core.SearchResult, 0, len(entries))

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		score := 1.0
		if len(terms) > 0 {
			score = matchScore(strings.ToLower(e.content), terms)
			if score == 0 {
				continue
			}
		}
		md := make(map[string]any, len(e.metadata))
		maps.Copy(md, e.metadata)
		results = append(results, core.SearchResult{ID: e.id, Content: e.content, Score: score, Metadata: md})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// Delete removes a memory entry by id.
func (m *InMemoryStore) Delete(sessionID string, memoryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.storage[sessionID]
	for i, e := range entries {
		if e.id == memoryID {
			m.storage[sessionID] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}

	return ErrNotFound
}

func matchScore(content string, terms []string) float64 {
	hits := 0
	for _, t := range terms {
		if strings.Contains(content, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
