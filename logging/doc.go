// Package logging provides the minimal structured logging interface used by
// pdlcmesh and its slog adapter.
//
// Usage:
//
//	logger := logging.New(logging.Config{Level: logging.LogLevelDebug, Format: "text"})
//	exec := turn.New(agent, func(o *turn.Options) { o.Logger = logger })
//
// Messages are dot-separated event keys ("turn.start", "tool.call.success")
// followed by key/value pairs.
package logging
