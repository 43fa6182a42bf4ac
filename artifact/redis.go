package artifact

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/pdlcmesh/core"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	// Prefix namespaces all keys.
	Prefix string
	// TTL expires artifacts after the last write. Zero keeps them forever.
	TTL time.Duration
	// Timeout bounds each Redis round trip.
	Timeout time.Duration
}

// RedisStore keeps artifact versions in a Redis list per artifact and the
// artifact ids of a session in a set.
type RedisStore struct {
	client redis.UniversalClient
	opts   RedisOptions
}

// NewRedisStore creates a Redis-backed artifact store.
func NewRedisStore(client redis.UniversalClient, optFns ...func(o *RedisOptions)) *RedisStore {
	opts := RedisOptions{
		Prefix:  "pdlcmesh:artifact:",
		Timeout: 5 * time.Second,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &RedisStore{client: client, opts: opts}
}

func (s *RedisStore) indexKey(key core.SessionKey) string {
	return s.opts.Prefix + key.AppName + ":" + key.ID
}

func (s *RedisStore) dataKey(key core.SessionKey, artifactID string) string {
	return s.indexKey(key) + ":" + artifactID
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.Timeout)
}

// Save appends a new version of the artifact.
func (s *RedisStore) Save(ctx context.Context, key core.SessionKey, artifactID string, data []byte) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.dataKey(key, artifactID), data)
		pipe.SAdd(ctx, s.indexKey(key), artifactID)
		if s.opts.TTL > 0 {
			pipe.Expire(ctx, s.dataKey(key, artifactID), s.opts.TTL)
			pipe.Expire(ctx, s.indexKey(key), s.opts.TTL)
		}
		return nil
	})

	return err
}

// Get returns the latest version of the artifact or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key core.SessionKey, artifactID string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	b, err := s.client.LIndex(ctx, s.dataKey(key, artifactID), -1).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}

	return b, err
}

// List returns the sorted artifact ids stored for the session.
func (s *RedisStore) List(ctx context.Context, key core.SessionKey) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ids, err := s.client.SMembers(ctx, s.indexKey(key)).Result()
	if err != nil {
		return nil, err
	}

	slices.SortFunc(ids, strings.Compare)

	return ids, nil
}

// Delete removes all versions of the artifact or returns ErrNotFound.
func (s *RedisStore) Delete(ctx context.Context, key core.SessionKey, artifactID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	removed, err := s.client.SRem(ctx, s.indexKey(key), artifactID).Result()
	if err != nil {
		return err
	}

	if removed == 0 {
		return ErrNotFound
	}

	return s.client.Del(ctx, s.dataKey(key, artifactID)).Err()
}
