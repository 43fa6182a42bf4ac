package pdlc

import (
	"context"
	"fmt"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/pdlcmesh/artifact"
	"github.com/hupe1980/pdlcmesh/config"
	"github.com/hupe1980/pdlcmesh/logging"
	"github.com/hupe1980/pdlcmesh/metrics"
	"github.com/hupe1980/pdlcmesh/model"
	"github.com/hupe1980/pdlcmesh/model/anthropic"
	"github.com/hupe1980/pdlcmesh/model/openai"
	"github.com/hupe1980/pdlcmesh/pipeline"
	"github.com/hupe1980/pdlcmesh/registry"
	"github.com/hupe1980/pdlcmesh/session"
)

// NewModel creates the configured reasoning capability. The credential is
// checked first so that a missing key fails before anything is served.
func NewModel(cfg *config.Config) (model.Model, error) {
	key, err := cfg.Credential()
	if err != nil {
		return nil, err
	}

	switch cfg.Model.Provider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			o.APIKey = key
			o.BaseURL = cfg.Model.BaseURL
			o.Temperature = cfg.Model.Temperature
			if cfg.Model.Name != "" {
				o.Model = cfg.Model.Name
			}
			if cfg.Model.MaxTokens > 0 {
				o.MaxCompletionTokens = int64(cfg.Model.MaxTokens)
			}
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = key
			o.BaseURL = cfg.Model.BaseURL
			o.Temperature = cfg.Model.Temperature
			if cfg.Model.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Model.Name)
			}
			if cfg.Model.MaxTokens > 0 {
				o.MaxTokens = int64(cfg.Model.MaxTokens)
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}
}

// Backend holds the process wide stores derived from the configuration.
type Backend struct {
	options func(o *Options)
	redis   *redis.Client
}

// NewBackend connects the configured stores. With a Redis address set,
// sessions, artifacts, identifiers and session locks live in Redis so that
// several replicas can serve the same agent.
func NewBackend(ctx context.Context, cfg *config.Config, logger logging.Logger, rec metrics.Recorder) (*Backend, error) {
	var checker pipeline.Checker = pipeline.StaticChecker{}
	if cfg.Checker.Command != "" {
		checker = pipeline.NewCommandChecker(cfg.Checker.Command, cfg.Checker.Args, func(o *pipeline.CommandCheckerOptions) {
			if d := cfg.CheckerTimeout(); d > 0 {
				o.Timeout = d
			}
		})
	}

	b := &Backend{}

	base := func(o *Options) {
		o.Logger = logger
		o.Metrics = rec
		o.Checker = checker
		o.MaxModelCalls = cfg.Turn.MaxModelCalls
		o.RecallLimit = cfg.Turn.RecallLimit
	}

	if cfg.Redis.Addr == "" {
		b.options = base
		return b, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
	}

	logger.Info("backend.redis.connected", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)

	ttl := cfg.SessionTTL()

	b.redis = client
	b.options = func(o *Options) {
		base(o)
		o.SessionStore = session.NewRedisStore(client, func(o *session.RedisOptions) {
			o.TTL = ttl
		})
		o.ArtifactStore = artifact.NewRedisStore(client, func(o *artifact.RedisOptions) {
			o.TTL = ttl
		})
		o.Registry = registry.NewRedis(client, func(o *registry.RedisOptions) {
			o.Logger = logger
			o.Metrics = rec
		})
		o.Locker = session.NewRedisLocker(client)
	}

	return b, nil
}

// Options applies the backend to catalog options.
func (b *Backend) Options() func(o *Options) { return b.options }

// Close releases the Redis connection, if any.
func (b *Backend) Close() error {
	if b.redis == nil {
		return nil
	}
	return b.redis.Close()
}
