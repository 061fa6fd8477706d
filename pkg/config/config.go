// Package config loads the configuration of the classroom-kit commands from
// a YAML file, an optional .env file and CLASSROOM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	kithttp "github.com/cecil-the-coder/classroom-kit/pkg/http"
)

// Environment variables overriding the file configuration.
const (
	EnvBaseURL     = "CLASSROOM_BASE_URL"
	EnvTimeout     = "CLASSROOM_TIMEOUT"
	EnvMaxRetries  = "CLASSROOM_MAX_RETRIES"
	EnvBearerToken = "CLASSROOM_BEARER_TOKEN"
	EnvSessionFile = "CLASSROOM_SESSION_FILE"
	EnvLogLevel    = "CLASSROOM_LOG_LEVEL"
	EnvLogFormat   = "CLASSROOM_LOG_FORMAT"
)

// Defaults.
const (
	DefaultBaseURL    = "http://localhost:5000"
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultNamespace  = "classroom"
)

// Config is the complete configuration
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Session SessionConfig `yaml:"session"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// BackendConfig configures the connection to the platform backend
type BackendConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
	RateBurst    int           `yaml:"rate_burst"`
	BearerToken  string        `yaml:"bearer_token"`
	UserAgent    string        `yaml:"user_agent"`
}

// SessionConfig configures the on-disk session mirror
type SessionConfig struct {
	File string `yaml:"file"` // Empty keeps the session in memory
}

// LoggingConfig configures log output
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// MetricsConfig configures Prometheus metrics
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Listen    string `yaml:"listen"` // Address serving /metrics, e.g. ":9090"
}

// Default returns the configuration used when nothing is configured.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:    DefaultBaseURL,
			Timeout:    DefaultTimeout,
			MaxRetries: DefaultMaxRetries,
		},
		Session: SessionConfig{File: DefaultSessionFile()},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Namespace: DefaultNamespace},
	}
}

// DefaultSessionFile returns the per-user session file location, or "" if
// the user configuration directory is unknown.
func DefaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "classroom-kit", "session.json")
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is not empty), then the environment. envFiles are loaded into the
// environment first when they exist; variables already set win.
func Load(path string, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := Default()
	if path != "" {
		//nolint:gosec // G304: config path is provided by the user
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvBaseURL); ok && v != "" {
		c.Backend.BaseURL = v
	}
	if v, ok := lookup(EnvTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvTimeout, v, err)
		}
		c.Backend.Timeout = d
	}
	if v, ok := lookup(EnvMaxRetries); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvMaxRetries, v, err)
		}
		c.Backend.MaxRetries = n
	}
	if v, ok := lookup(EnvBearerToken); ok && v != "" {
		c.Backend.BearerToken = v
	}
	// An explicitly empty session file selects an in-memory session.
	if v, ok := lookup(EnvSessionFile); ok {
		c.Session.File = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup(EnvLogFormat); ok && v != "" {
		c.Logging.Format = v
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.Backend.BaseURL)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("backend.base_url: %w", err))
	case u.Scheme != "http" && u.Scheme != "https", u.Host == "":
		errs = append(errs, fmt.Errorf("backend.base_url must be an absolute http(s) URL, got %q", c.Backend.BaseURL))
	}
	if c.Backend.Timeout < 0 {
		errs = append(errs, errors.New("backend.timeout must not be negative"))
	}
	if c.Backend.MaxRetries < 0 {
		errs = append(errs, errors.New("backend.max_retries must not be negative"))
	}
	if c.Backend.RateLimitRPS < 0 {
		errs = append(errs, errors.New("backend.rate_limit_rps must not be negative"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		errs = append(errs, errors.New("metrics.namespace is required when metrics are enabled"))
	}

	return errors.Join(errs...)
}

// HTTPClientConfig returns the transport configuration for the backend.
func (c *Config) HTTPClientConfig() kithttp.ClientConfig {
	return kithttp.ClientConfig{
		BaseURL:     c.Backend.BaseURL,
		Timeout:     c.Backend.Timeout,
		MaxRetries:  c.Backend.MaxRetries,
		RateLimit:   c.Backend.RateLimitRPS,
		RateBurst:   c.Backend.RateBurst,
		BearerToken: c.Backend.BearerToken,
		UserAgent:   c.Backend.UserAgent,
	}
}
