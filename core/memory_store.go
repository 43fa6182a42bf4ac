package core

// MemoryStore persists recall snippets per session and searches them.
type MemoryStore interface {
	Store(sessionID string, content string, metadata map[string]any) error
	Search(sessionID string, query string, limit int) ([]SearchResult, error)
	Delete(sessionID string, memoryID string) error
}

// SearchResult represents a retrieved memory item with a relevance score and arbitrary metadata.
type SearchResult struct {
	ID       string
	Content  string
	Score    float64
	Metadata map[string]any
}
