package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNew_Defaults(t *testing.T) {
	cfg := New()

	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 25, cfg.Turn.MaxModelCalls)
	assert.Equal(t, 30*time.Second, cfg.CheckerTimeout())
	assert.Zero(t, cfg.SessionTTL())
	assert.True(t, cfg.Metrics.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile_TOML(t *testing.T) {
	path := writeFile(t, "pdlc.toml", `
[model]
provider = "anthropic"
name = "claude-sonnet-4-5"
credential_env = "PDLC_MODEL_KEY"

[server]
port = 9000

[redis]
addr = "localhost:6379"
session_ttl = "1h"

[checker]
command = "pytest"
args = ["-q", "{file}"]
timeout = "2m"
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, "PDLC_MODEL_KEY", cfg.CredentialEnv())
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, time.Hour, cfg.SessionTTL())
	assert.Equal(t, []string{"-q", "{file}"}, cfg.Checker.Args)
	assert.Equal(t, 2*time.Minute, cfg.CheckerTimeout())
}

func TestLoadFile_YAML(t *testing.T) {
	path := writeFile(t, "pdlc.yaml", `
model:
  provider: openai
  name: gpt-4o
log:
  level: debug
  format: json
turn:
  max_model_calls: 5
  recall_limit: 3
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.Model.Name)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 5, cfg.Turn.MaxModelCalls)
	assert.Equal(t, 3, cfg.Turn.RecallLimit)
	assert.Equal(t, "OPENAI_API_KEY", cfg.CredentialEnv())
	assert.NotNil(t, cfg.Logger("test"))
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(writeFile(t, "pdlc.ini", "x=1"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = LoadFile(writeFile(t, "bad.toml", "[model\nprovider="))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "p.toml", "[model]\nprovider = \"gemini\""))
	assert.ErrorContains(t, err, "unknown model provider")

	_, err = LoadFile(writeFile(t, "t.yaml", "checker:\n  timeout: soon\n"))
	assert.ErrorContains(t, err, "checker timeout")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, New(), cfg)
}

func TestCredential(t *testing.T) {
	cfg := New()
	cfg.Model.CredentialEnv = "PDLC_TEST_CREDENTIAL"

	t.Setenv("PDLC_TEST_CREDENTIAL", "")
	_, err := cfg.Credential()

	var missing *MissingCredentialError
	require.ErrorAs(t, err, &missing)
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.Equal(t, "PDLC_TEST_CREDENTIAL", missing.Env)
	assert.Equal(t, "PDLC_TEST_CREDENTIAL environment variable not set (required by provider openai)", err.Error())

	t.Setenv("PDLC_TEST_CREDENTIAL", "sk-test")
	v, err := cfg.Credential()
	require.NoError(t, err)
	assert.Equal(t, "sk-test", v)
}

func TestLoadEnv(t *testing.T) {
	path := writeFile(t, "test.env", "PDLC_ENV_FROM_FILE=from-file\nPDLC_ENV_PRESET=from-file\n")
	t.Setenv("PDLC_ENV_PRESET", "preset")
	t.Cleanup(func() { os.Unsetenv("PDLC_ENV_FROM_FILE") })

	require.NoError(t, LoadEnv(path))
	assert.Equal(t, "from-file", os.Getenv("PDLC_ENV_FROM_FILE"))
	assert.Equal(t, "preset", os.Getenv("PDLC_ENV_PRESET"))

	assert.Error(t, LoadEnv(filepath.Join(t.TempDir(), "missing.env")))
}
