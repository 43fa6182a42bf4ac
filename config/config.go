// Package config provides process configuration loading for the pdlc
// servers and the startup credential check.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/pdlcmesh/logging"
)

// ErrMissingCredential is wrapped by MissingCredentialError.
var ErrMissingCredential = errors.New("missing credential")

// ErrUnsupportedFormat is returned for config files that are neither TOML nor YAML.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// MissingCredentialError reports that the model provider's credential is
// not present in the environment.
type MissingCredentialError struct {
	Provider string
	Env      string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("%s environment variable not set (required by provider %s)", e.Env, e.Provider)
}

// Unwrap returns ErrMissingCredential.
func (e *MissingCredentialError) Unwrap() error { return ErrMissingCredential }

// Config is the process configuration.
type Config struct {
	Model   ModelConfig   `toml:"model" yaml:"model"`
	Server  ServerConfig  `toml:"server" yaml:"server"`
	Log     LogConfig     `toml:"log" yaml:"log"`
	Redis   RedisConfig   `toml:"redis" yaml:"redis"`
	Turn    TurnConfig    `toml:"turn" yaml:"turn"`
	Checker CheckerConfig `toml:"checker" yaml:"checker"`
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics"`
}

// ModelConfig selects the reasoning capability.
type ModelConfig struct {
	Provider string `toml:"provider" yaml:"provider"` // openai | anthropic
	// Name selects the model; empty uses the provider's default.
	Name string `toml:"name" yaml:"name"`
	// CredentialEnv overrides the provider's default credential variable.
	CredentialEnv string  `toml:"credential_env" yaml:"credential_env"`
	BaseURL       string  `toml:"base_url" yaml:"base_url"`
	Temperature   float64 `toml:"temperature" yaml:"temperature"`
	MaxTokens     int     `toml:"max_tokens" yaml:"max_tokens"`
}

// ServerConfig contains listener settings. A zero port selects the
// agent's default port.
type ServerConfig struct {
	Host string `toml:"host" yaml:"host"`
	Port int    `toml:"port" yaml:"port"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"` // json | text
}

// RedisConfig enables Redis backed sessions, artifacts, identifiers and
// session locks when Addr is set.
type RedisConfig struct {
	Addr       string `toml:"addr" yaml:"addr"`
	Password   string `toml:"password" yaml:"password"`
	DB         int    `toml:"db" yaml:"db"`
	SessionTTL string `toml:"session_ttl" yaml:"session_ttl"`
}

// TurnConfig bounds turn execution.
type TurnConfig struct {
	MaxModelCalls int `toml:"max_model_calls" yaml:"max_model_calls"`
	RecallLimit   int `toml:"recall_limit" yaml:"recall_limit"`
}

// CheckerConfig replaces the static test checker with a command when
// Command is set.
type CheckerConfig struct {
	Command string   `toml:"command" yaml:"command"`
	Args    []string `toml:"args" yaml:"args"`
	Timeout string   `toml:"timeout" yaml:"timeout"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
}

// New creates a config with defaults.
func New() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:    "openai",
			Temperature: 0.2,
			MaxTokens:   2048,
		},
		Server: ServerConfig{
			Host: "localhost",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Turn: TurnConfig{
			MaxModelCalls: 25,
		},
		Checker: CheckerConfig{
			Timeout: "30s",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// LoadFile loads configuration from a TOML (.toml) or YAML (.yaml, .yml)
// file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := New()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load returns the defaults when path is empty and LoadFile(path) otherwise.
func Load(path string) (*Config, error) {
	if path == "" {
		return New(), nil
	}
	return LoadFile(path)
}

// LoadEnv loads .env files into the process environment without
// overriding variables that are already set. Without arguments it loads
// ./.env when present.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}

	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	return nil
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	var errs []error

	if DefaultCredentialEnv(c.Model.Provider) == "" {
		errs = append(errs, fmt.Errorf("unknown model provider %q", c.Model.Provider))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Server.Port))
	}

	if _, err := parseDuration(c.Checker.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("checker timeout: %w", err))
	}

	if _, err := parseDuration(c.Redis.SessionTTL); err != nil {
		errs = append(errs, fmt.Errorf("redis session_ttl: %w", err))
	}

	return errors.Join(errs...)
}

// DefaultCredentialEnv returns the credential variable of a provider.
func DefaultCredentialEnv(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	default:
		return ""
	}
}

// CredentialEnv returns the environment variable holding the credential.
func (c *Config) CredentialEnv() string {
	if c.Model.CredentialEnv != "" {
		return c.Model.CredentialEnv
	}
	return DefaultCredentialEnv(c.Model.Provider)
}

// Credential returns the model credential or a *MissingCredentialError.
func (c *Config) Credential() (string, error) {
	env := c.CredentialEnv()
	if env == "" {
		return "", &MissingCredentialError{Provider: c.Model.Provider, Env: "<unknown>"}
	}

	v, ok := os.LookupEnv(env)
	if !ok || strings.TrimSpace(v) == "" {
		return "", &MissingCredentialError{Provider: c.Model.Provider, Env: env}
	}

	return v, nil
}

// CheckerTimeout returns the parsed checker timeout.
func (c *Config) CheckerTimeout() time.Duration {
	d, _ := parseDuration(c.Checker.Timeout)
	return d
}

// SessionTTL returns the parsed Redis session TTL (0 = no expiry).
func (c *Config) SessionTTL() time.Duration {
	d, _ := parseDuration(c.Redis.SessionTTL)
	return d
}

// Logger builds the process logger.
func (c *Config) Logger(component string) logging.Logger {
	return logging.New(logging.Config{
		Level:     logging.ParseLevel(c.Log.Level),
		Format:    c.Log.Format,
		Output:    os.Stderr,
		Component: component,
	})
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
