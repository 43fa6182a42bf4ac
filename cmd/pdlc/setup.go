package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hupe1980/pdlcmesh/config"
	"github.com/hupe1980/pdlcmesh/logging"
	"github.com/hupe1980/pdlcmesh/metrics"
	"github.com/hupe1980/pdlcmesh/pdlc"
)

// environment is everything a command needs to run an agent locally.
type environment struct {
	cfg      *config.Config
	logger   logging.Logger
	gatherer prometheus.Gatherer
	backend  *pdlc.Backend
	service  *pdlc.Service
}

func loadConfig(flags *rootFlags) (*config.Config, error) {
	if err := config.LoadEnv(flags.envFiles...); err != nil {
		return nil, err
	}

	return config.Load(flags.configPath)
}

// setup checks the credential, then builds the model, stores and agent.
// Nothing is served when the credential is missing.
func setup(ctx context.Context, cfg *config.Config, kind pdlc.Kind) (*environment, error) {
	logger := cfg.Logger("pdlc")

	llm, err := pdlc.NewModel(cfg)
	if err != nil {
		var missing *config.MissingCredentialError
		if errors.As(err, &missing) {
			logger.Error("startup.credential.missing", "provider", missing.Provider, "env", missing.Env)
		}
		return nil, err
	}

	var (
		gatherer prometheus.Gatherer
		rec      metrics.Recorder = metrics.NopRecorder{}
	)

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		rec = metrics.NewPrometheus(reg)
		gatherer = reg
	}

	backend, err := pdlc.NewBackend(ctx, cfg, logger, rec)
	if err != nil {
		return nil, err
	}

	svc, err := pdlc.New(kind, llm, backend.Options())
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	return &environment{
		cfg:      cfg,
		logger:   logger,
		gatherer: gatherer,
		backend:  backend,
		service:  svc,
	}, nil
}

func (e *environment) Close() error { return e.backend.Close() }
