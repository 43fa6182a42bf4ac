package registry

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/pdlcmesh/logging"
	"github.com/hupe1980/pdlcmesh/metrics"
)

// RedisOptions configures a RedisRegistry.
type RedisOptions struct {
	Options
	Prefix  string
	Logger  logging.Logger
	Metrics metrics.Recorder
}

// RedisRegistry keeps each namespace in a Redis set so that several
// processes serving the same pipeline share identifiers. SADD makes the
// uniqueness check and the insert a single atomic step.
type RedisRegistry struct {
	client redis.UniversalClient
	opts   RedisOptions
}

// NewRedis creates a Redis-backed Registry.
func NewRedis(client redis.UniversalClient, optFns ...func(o *RedisOptions)) *RedisRegistry {
	opts := RedisOptions{
		Options: defaultOptions(),
		Prefix:  "pdlcmesh:registry:",
		Logger:  logging.NoOpLogger{},
		Metrics: metrics.NopRecorder{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &RedisRegistry{client: client, opts: opts}
}

func (r *RedisRegistry) setKey(ns Namespace) string { return r.opts.Prefix + string(ns) }

func (r *RedisRegistry) counterKey(ns Namespace) string {
	return r.opts.Prefix + string(ns) + ":counter"
}

// Issue returns a fresh identifier in ns.
func (r *RedisRegistry) Issue(ctx context.Context, ns Namespace) (string, error) {
	if !ns.Valid() {
		return "", ErrUnknownNamespace
	}

	id, err := r.next(ctx, ns)
	if err != nil {
		return "", fmt.Errorf("issue %s: %w", ns, err)
	}

	r.opts.Logger.Debug("registry.issue", "namespace", string(ns), "id", id, "backend", "redis")
	r.opts.Metrics.IdentifierIssued(string(ns))

	return id, nil
}

func (r *RedisRegistry) next(ctx context.Context, ns Namespace) (string, error) {
	for i := 0; i < r.opts.MaxDraws; i++ {
		id := format(ns, r.opts.Draw())
		added, err := r.client.SAdd(ctx, r.setKey(ns), id).Result()
		if err != nil {
			return "", err
		}
		if added == 1 {
			return id, nil
		}
	}

	for {
		n, err := r.client.Incr(ctx, r.counterKey(ns)).Result()
		if err != nil {
			return "", err
		}
		id := format(ns, counterBase+n)
		added, err := r.client.SAdd(ctx, r.setKey(ns), id).Result()
		if err != nil {
			return "", err
		}
		if added == 1 {
			return id, nil
		}
	}
}

// Validate reports whether id is currently valid in ns.
func (r *RedisRegistry) Validate(ctx context.Context, ns Namespace, id string) (bool, error) {
	if !ns.Valid() {
		return false, ErrUnknownNamespace
	}

	return r.client.SIsMember(ctx, r.setKey(ns), id).Result()
}

// Revoke removes id from ns.
func (r *RedisRegistry) Revoke(ctx context.Context, ns Namespace, id string) error {
	if !ns.Valid() {
		return ErrUnknownNamespace
	}

	return r.client.SRem(ctx, r.setKey(ns), id).Err()
}

// Count returns the number of valid identifiers in ns.
func (r *RedisRegistry) Count(ctx context.Context, ns Namespace) (int, error) {
	if !ns.Valid() {
		return 0, ErrUnknownNamespace
	}

	n, err := r.client.SCard(ctx, r.setKey(ns)).Result()

	return int(n), err
}
