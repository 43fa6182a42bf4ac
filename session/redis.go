package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/pdlcmesh/core"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	// Prefix namespaces all keys.
	Prefix string
	// TTL expires sessions after the last write. Zero keeps them forever.
	TTL time.Duration
}

type sessionMeta struct {
	ID      string         `json:"id"`
	AppName string         `json:"app_name"`
	State   map[string]any `json:"state"`
	Created time.Time      `json:"created"`
	Updated time.Time      `json:"updated"`
}

// RedisStore is a core.SessionStore backed by Redis. Session metadata and
// state live in a JSON string, events in a list, and every app has a sorted
// set index of its sessions scored by last update.
//
// State values round-trip through JSON, so numbers come back as float64.
type RedisStore struct {
	client redis.UniversalClient
	opts   RedisOptions
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client redis.UniversalClient, optFns ...func(o *RedisOptions)) *RedisStore {
	opts := RedisOptions{Prefix: "pdlcmesh:"}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &RedisStore{client: client, opts: opts}
}

func (s *RedisStore) metaKey(k core.SessionKey) string {
	return s.opts.Prefix + "session:" + k.AppName + ":" + k.ID
}

func (s *RedisStore) eventsKey(k core.SessionKey) string { return s.metaKey(k) + ":events" }

func (s *RedisStore) indexKey(appName string) string { return s.opts.Prefix + "sessions:" + appName }

// Create stores a new session seeded with state.
func (s *RedisStore) Create(ctx context.Context, key core.SessionKey, state map[string]any) (*core.Session, error) {
	now := time.Now().UTC()
	meta := sessionMeta{ID: key.ID, AppName: key.AppName, State: map[string]any{}, Created: now, Updated: now}
	maps.Copy(meta.State, state)

	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.metaKey(key), b, s.opts.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if !ok {
		return nil, core.ErrSessionExists
	}

	if err := s.client.ZAdd(ctx, s.indexKey(key.AppName), redis.Z{Score: float64(now.Unix()), Member: key.ID}).Err(); err != nil {
		return nil, fmt.Errorf("index session: %w", err)
	}

	return s.toSession(meta, nil), nil
}

// Get loads the session or returns core.ErrSessionNotFound.
func (s *RedisStore) Get(ctx context.Context, key core.SessionKey) (*core.Session, error) {
	meta, err := s.loadMeta(ctx, s.client, key)
	if err != nil {
		return nil, err
	}

	raw, err := s.client.LRange(ctx, s.eventsKey(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	events := make([]core.Event, 0, len(raw))
	for _, r := range raw {
		var ev core.Event
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, ev)
	}

	return s.toSession(*meta, events), nil
}

// AppendEvent appends ev to the session history.
func (s *RedisStore) AppendEvent(ctx context.Context, key core.SessionKey, ev core.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return s.update(ctx, key, func(pipe redis.Pipeliner, _ *sessionMeta) {
		pipe.RPush(ctx, s.eventsKey(key), b)
	})
}

// ApplyDelta merges delta into the session state.
func (s *RedisStore) ApplyDelta(ctx context.Context, key core.SessionKey, delta map[string]any) error {
	return s.update(ctx, key, func(_ redis.Pipeliner, meta *sessionMeta) {
		maps.Copy(meta.State, delta)
	})
}

// List returns the session ids of an app, most recently updated first.
func (s *RedisStore) List(ctx context.Context, appName string) ([]string, error) {
	return s.client.ZRevRange(ctx, s.indexKey(appName), 0, -1).Result()
}

// update runs fn inside an optimistic transaction on the session metadata
// and refreshes timestamps, index score and TTLs.
func (s *RedisStore) update(ctx context.Context, key core.SessionKey, fn func(pipe redis.Pipeliner, meta *sessionMeta)) error {
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		meta, err := s.loadMeta(ctx, tx, key)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			fn(pipe, meta)

			meta.Updated = time.Now().UTC()

			b, err := json.Marshal(meta)
			if err != nil {
				return fmt.Errorf("marshal session: %w", err)
			}

			pipe.Set(ctx, s.metaKey(key), b, s.opts.TTL)
			pipe.ZAdd(ctx, s.indexKey(key.AppName), redis.Z{Score: float64(meta.Updated.Unix()), Member: key.ID})

			if s.opts.TTL > 0 {
				pipe.Expire(ctx, s.eventsKey(key), s.opts.TTL)
			}

			return nil
		})

		return err
	}, s.metaKey(key))
}

func (s *RedisStore) loadMeta(ctx context.Context, c redis.Cmdable, key core.SessionKey) (*sessionMeta, error) {
	b, err := c.Get(ctx, s.metaKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrSessionNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var meta sessionMeta
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}

	if meta.State == nil {
		meta.State = map[string]any{}
	}

	return &meta, nil
}

func (s *RedisStore) toSession(meta sessionMeta, events []core.Event) *core.Session {
	sess := core.NewSession(core.SessionKey{AppName: meta.AppName, ID: meta.ID})
	maps.Copy(sess.State, meta.State)
	sess.Events = append(sess.Events, events...)
	sess.Created = meta.Created
	sess.Updated = meta.Updated
	return sess
}
