package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every override so the host environment cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvBaseURL, EnvTimeout, EnvMaxRetries, EnvBearerToken, EnvLogLevel, EnvLogFormat} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func mapLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultBaseURL, cfg.Backend.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 3, cfg.Backend.MaxRetries)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "classroom.yaml", `
backend:
  base_url: https://class.example.edu
  timeout: 45s
  max_retries: 0
  rate_limit_rps: 2.5
session:
  file: ""
logging:
  level: debug
  format: json
metrics:
  enabled: true
  namespace: lab
  listen: ":9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://class.example.edu", cfg.Backend.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Backend.Timeout)
	assert.Zero(t, cfg.Backend.MaxRetries)
	assert.InDelta(t, 2.5, cfg.Backend.RateLimitRPS, 0.0001)
	assert.Empty(t, cfg.Session.File)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9090", cfg.Metrics.Listen)
}

func TestLoad_PartialYAMLKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "classroom.yaml", "logging:\n  level: warn\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, DefaultBaseURL, cfg.Backend.BaseURL)
	assert.Equal(t, DefaultMaxRetries, cfg.Backend.MaxRetries)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "classroom.yaml", "backend:\n  base_url: https://file.example.edu\n")
	t.Setenv(EnvBaseURL, "http://env.example.edu:8080")
	t.Setenv(EnvTimeout, "5s")
	t.Setenv(EnvSessionFile, "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env.example.edu:8080", cfg.Backend.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Backend.Timeout)
	assert.Empty(t, cfg.Session.File, "an empty session file selects an in-memory session")
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	if _, set := os.LookupEnv("CLASSROOM_TEST_DOTENV"); set {
		t.Skip("CLASSROOM_TEST_DOTENV already set")
	}
	t.Setenv(EnvLogLevel, "error")
	envFile := writeFile(t, ".env", "CLASSROOM_TEST_DOTENV=loaded\nCLASSROOM_LOG_LEVEL=debug\n")
	t.Cleanup(func() { _ = os.Unsetenv("CLASSROOM_TEST_DOTENV") })

	cfg, err := Load("", envFile, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "loaded", os.Getenv("CLASSROOM_TEST_DOTENV"))
	assert.Equal(t, "error", cfg.Logging.Level, "variables already set win over .env")
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeFile(t, "bad.yaml", "backend: [unterminated"))
	assert.ErrorContains(t, err, "failed to parse config file")

	t.Setenv(EnvMaxRetries, "many")
	_, err = Load("")
	assert.ErrorContains(t, err, EnvMaxRetries)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(mapLookup(map[string]string{
		EnvMaxRetries:  "7",
		EnvBearerToken: "tok",
		EnvLogFormat:   "json",
		EnvBaseURL:     "",
	}))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Backend.MaxRetries)
	assert.Equal(t, "tok", cfg.Backend.BearerToken)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, DefaultBaseURL, cfg.Backend.BaseURL, "empty values are ignored")

	err = cfg.ApplyEnv(mapLookup(map[string]string{EnvTimeout: "soon"}))
	assert.ErrorContains(t, err, EnvTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"relative url", func(c *Config) { c.Backend.BaseURL = "/api" }, "absolute http(s) URL"},
		{"ftp url", func(c *Config) { c.Backend.BaseURL = "ftp://example.edu" }, "absolute http(s) URL"},
		{"negative timeout", func(c *Config) { c.Backend.Timeout = -time.Second }, "backend.timeout"},
		{"negative retries", func(c *Config) { c.Backend.MaxRetries = -1 }, "backend.max_retries"},
		{"negative rate", func(c *Config) { c.Backend.RateLimitRPS = -1 }, "backend.rate_limit_rps"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"metrics namespace", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Namespace = "" }, "metrics.namespace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}

	t.Run("reports every problem", func(t *testing.T) {
		cfg := Default()
		cfg.Backend.Timeout = -1
		cfg.Backend.MaxRetries = -1
		err := cfg.Validate()
		assert.ErrorContains(t, err, "backend.timeout")
		assert.ErrorContains(t, err, "backend.max_retries")
	})
}

func TestHTTPClientConfig(t *testing.T) {
	cfg := Default()
	cfg.Backend.RateLimitRPS = 4
	cfg.Backend.RateBurst = 2
	cfg.Backend.BearerToken = "tok"

	hc := cfg.HTTPClientConfig()
	assert.Equal(t, cfg.Backend.BaseURL, hc.BaseURL)
	assert.Equal(t, cfg.Backend.Timeout, hc.Timeout)
	assert.Equal(t, 3, hc.MaxRetries)
	assert.InDelta(t, 4.0, hc.RateLimit, 0.0001)
	assert.Equal(t, 2, hc.RateBurst)
	assert.Equal(t, "tok", hc.BearerToken)
}
