package core

import "context"

// ArtifactStore persists the artifacts produced during a session, such as
// generated code and test sources. Artifacts are scoped by SessionKey and
// addressed by id; saving the same id again adds a new version.
type ArtifactStore interface {
	Save(ctx context.Context, key SessionKey, artifactID string, data []byte) error
	// Get returns the latest version.
	Get(ctx context.Context, key SessionKey, artifactID string) ([]byte, error)
	List(ctx context.Context, key SessionKey) ([]string, error)
	Delete(ctx context.Context, key SessionKey, artifactID string) error
}
