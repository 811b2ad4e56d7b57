// Package config loads frontcache settings from defaults, an optional YAML
// file, a .env file and the process environment, in increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/frontcache/internal/frontapi"
	"github.com/roach88/frontcache/internal/ratelimit"
)

// Environment variables.
const (
	EnvToken         = "FRONT_API_TOKEN"
	EnvBaseURL       = "FRONT_API_BASE_URL"
	EnvDB            = "FRONTCACHE_DB"
	EnvConfig        = "FRONTCACHE_CONFIG"
	EnvMaxConcurrent = "FRONTCACHE_MAX_CONCURRENT"
	EnvMinInterval   = "FRONTCACHE_MIN_INTERVAL"
	EnvPerMinute     = "FRONTCACHE_PER_MINUTE"
	EnvMaxAttempts   = "FRONTCACHE_MAX_ATTEMPTS"
	EnvBackoffFloor  = "FRONTCACHE_BACKOFF_FLOOR"
)

// Config is the resolved configuration.
type Config struct {
	BaseURL     string    `yaml:"base_url"`
	DBPath      string    `yaml:"db_path"`
	PageSize    int       `yaml:"page_size"`
	RecentLimit int       `yaml:"recent_limit"`
	RateLimit   RateLimit `yaml:"rate_limit"`
	Retry       Retry     `yaml:"retry"`

	// Token is read from the environment only, never from the YAML file.
	Token string `yaml:"-"`
}

// RateLimit mirrors ratelimit.Config, with the window fixed at one minute.
type RateLimit struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	MinInterval   time.Duration `yaml:"min_interval"`
	PerMinute     int           `yaml:"per_minute"`
}

// Retry configures 429 backoff.
type Retry struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	BackoffFloor time.Duration `yaml:"backoff_floor"`
	BackoffBase  time.Duration `yaml:"backoff_base"`
	BackoffMax   time.Duration `yaml:"backoff_max"`
}

// Default returns the built-in configuration.
func Default() *Config {
	lim := ratelimit.DefaultConfig()
	api := frontapi.DefaultConfig()
	return &Config{
		BaseURL:     api.BaseURL,
		DBPath:      defaultDBPath(),
		PageSize:    api.PageSize,
		RecentLimit: 10,
		RateLimit: RateLimit{
			MaxConcurrent: lim.MaxConcurrent,
			MinInterval:   lim.MinInterval,
			PerMinute:     lim.PerWindow,
		},
		Retry: Retry{
			MaxAttempts:  api.MaxAttempts,
			BackoffFloor: api.BackoffFloor,
			BackoffBase:  api.BackoffBase,
			BackoffMax:   api.BackoffMax,
		},
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".frontcache", "front-cache.db")
	}
	return filepath.Join(home, ".frontcache", "front-cache.db")
}

// Load resolves the configuration. path names a YAML file; when empty,
// $FRONTCACHE_CONFIG is used if set. A named file that does not exist is
// an error. A missing .env file is not.
//
// The credential is not checked here: stats runs work without one.
func Load(path string) (*Config, error) {
	// Load .env file if exists (ignore error when absent)
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.DBPath = expandHome(cfg.DBPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvToken); v != "" {
		c.Token = strings.TrimSpace(v)
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv(EnvDB); v != "" {
		c.DBPath = v
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{EnvMaxConcurrent, &c.RateLimit.MaxConcurrent},
		{EnvPerMinute, &c.RateLimit.PerMinute},
		{EnvMaxAttempts, &c.Retry.MaxAttempts},
	}
	for _, e := range ints {
		v := os.Getenv(e.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", e.name, v)
		}
		*e.dst = n
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{EnvMinInterval, &c.RateLimit.MinInterval},
		{EnvBackoffFloor, &c.Retry.BackoffFloor},
	}
	for _, e := range durations {
		v := os.Getenv(e.name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q", e.name, v)
		}
		*e.dst = d
	}
	return nil
}

// Validate rejects settings the limiter and client cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("base_url must not be empty"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path must not be empty"))
	}
	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("page_size must be positive, got %d", c.PageSize))
	}
	if c.RateLimit.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.max_concurrent must be positive, got %d", c.RateLimit.MaxConcurrent))
	}
	if c.RateLimit.MinInterval < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.min_interval must not be negative, got %s", c.RateLimit.MinInterval))
	}
	if c.RateLimit.PerMinute <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.per_minute must be positive, got %d", c.RateLimit.PerMinute))
	}
	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.BackoffFloor < 0 {
		errs = append(errs, fmt.Errorf("retry.backoff_floor must not be negative, got %s", c.Retry.BackoffFloor))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// LimiterConfig returns the rate limiter settings.
func (c *Config) LimiterConfig() ratelimit.Config {
	return ratelimit.Config{
		MaxConcurrent: c.RateLimit.MaxConcurrent,
		MinInterval:   c.RateLimit.MinInterval,
		PerWindow:     c.RateLimit.PerMinute,
		Window:        time.Minute,
	}
}

// ClientConfig returns the API client settings, including the credential.
func (c *Config) ClientConfig() frontapi.Config {
	return frontapi.Config{
		BaseURL:      c.BaseURL,
		Token:        c.Token,
		PageSize:     c.PageSize,
		MaxAttempts:  c.Retry.MaxAttempts,
		BackoffFloor: c.Retry.BackoffFloor,
		BackoffBase:  c.Retry.BackoffBase,
		BackoffMax:   c.Retry.BackoffMax,
	}
}

// HasCredential reports whether a token is configured.
func (c *Config) HasCredential() bool {
	return c.Token != ""
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
