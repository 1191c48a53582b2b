// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ManuGH/tunegate/internal/log"
)

// Loader handles configuration loading with precedence ENV > File > Defaults.
type Loader struct {
	configPath string
	envFile    string
	version    string
	// ConsumedEnvKeys records every environment key the last Load consulted.
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a loader. An empty configPath skips the file layer.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		envFile:         ".env",
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// WithEnvFile overrides the .env path; an empty path disables .env loading.
func (l *Loader) WithEnvFile(path string) *Loader {
	l.envFile = path
	return l
}

// Path returns the YAML file path, possibly empty.
func (l *Loader) Path() string { return l.configPath }

// Load parses file (strict), applies env, then validates.
func (l *Loader) Load() (Config, error) {
	if err := l.loadDotEnv(); err != nil {
		return Config{}, err
	}

	cfg := Defaults()
	if l.configPath != "" {
		if err := l.mergeFile(&cfg, l.configPath); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	l.mergeEnv(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadDotEnv seeds the environment from envFile. Existing variables win.
func (l *Loader) loadDotEnv() error {
	if l.envFile == "" {
		return nil
	}
	if _, err := os.Stat(l.envFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(l.envFile); err != nil {
		return fmt.Errorf("load env file %s: %w", l.envFile, err)
	}
	logger := log.WithComponent("config")
	logger.Debug().
		Str("event", "config.env_file_loaded").
		Str("path", l.envFile).
		Msg("loaded .env file")
	return nil
}

// mergeFile decodes the YAML file over cfg. Keys absent from the file keep
// their current values; unknown keys are rejected.
func (l *Loader) mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("strict config parse error: %w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) key(name string) string {
	k := EnvPrefix + name
	l.ConsumedEnvKeys[k] = struct{}{}
	return k
}

func (l *Loader) mergeEnv(cfg *Config) {
	// LOG_LEVEL is honoured as an unprefixed alias.
	cfg.Log.Level = ParseString("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Level = ParseString(l.key("LOG_LEVEL"), cfg.Log.Level)
	cfg.Log.Service = ParseString(l.key("LOG_SERVICE"), cfg.Log.Service)

	s := &cfg.Server
	s.ListenAddr = ParseString(l.key("LISTEN"), s.ListenAddr)
	s.ReadTimeout = ParseDuration(l.key("READ_TIMEOUT"), s.ReadTimeout)
	s.IdleTimeout = ParseDuration(l.key("IDLE_TIMEOUT"), s.IdleTimeout)
	s.ShutdownTimeout = ParseDuration(l.key("SHUTDOWN_TIMEOUT"), s.ShutdownTimeout)
	s.AllowedOrigins = ParseStringList(l.key("ALLOWED_ORIGINS"), s.AllowedOrigins)
	s.RateLimit.Enabled = ParseBool(l.key("RATELIMIT_ENABLED"), s.RateLimit.Enabled)
	s.RateLimit.Requests = ParseInt(l.key("RATELIMIT_REQUESTS"), s.RateLimit.Requests)
	s.RateLimit.Window = ParseDuration(l.key("RATELIMIT_WINDOW"), s.RateLimit.Window)

	u := &cfg.Upstream
	u.Timeout = ParseDuration(l.key("UPSTREAM_TIMEOUT"), u.Timeout)
	u.UserAgent = ParseString(l.key("UPSTREAM_USER_AGENT"), u.UserAgent)
	u.RateLimit = ParseFloat(l.key("UPSTREAM_RATE_LIMIT"), u.RateLimit)
	u.Burst = ParseInt(l.key("UPSTREAM_BURST"), u.Burst)
	u.MaxRetries = ParseInt(l.key("UPSTREAM_MAX_RETRIES"), u.MaxRetries)
	u.RetryBackoff = ParseDuration(l.key("UPSTREAM_RETRY_BACKOFF"), u.RetryBackoff)

	r := &cfg.Resolver
	r.Timeout = ParseDuration(l.key("RESOLVER_TIMEOUT"), r.Timeout)
	r.BreakerThreshold = ParseInt(l.key("BREAKER_THRESHOLD"), r.BreakerThreshold)
	r.BreakerReset = ParseDuration(l.key("BREAKER_RESET"), r.BreakerReset)
	r.InnertubeBase = ParseString(l.key("INNERTUBE_BASE"), r.InnertubeBase)
	r.ClientProfile.ClientVersion = ParseString(l.key("INNERTUBE_CLIENT_VERSION"), r.ClientProfile.ClientVersion)
	r.ClientProfile.UserAgent = ParseString(l.key("INNERTUBE_USER_AGENT"), r.ClientProfile.UserAgent)
	r.ExtractorEnabled = ParseBool(l.key("EXTRACTOR_ENABLED"), r.ExtractorEnabled)
	r.Mirrors = ParseStringList(l.key("MIRRORS"), r.Mirrors)
	r.MirrorBudget = ParseDuration(l.key("MIRROR_BUDGET"), r.MirrorBudget)

	f := &cfg.Fetcher
	f.AllowedHosts = ParseStringList(l.key("ALLOWED_HOSTS"), f.AllowedHosts)
	f.ThrottledHosts = ParseStringList(l.key("THROTTLED_HOSTS"), f.ThrottledHosts)
	f.ChunkSize = ParseInt64(l.key("CHUNK_SIZE"), f.ChunkSize)
	f.MaxBoundedBytes = ParseInt64(l.key("MAX_BOUNDED_BYTES"), f.MaxBoundedBytes)
	f.StreamCeilingBytes = ParseInt64(l.key("STREAM_CEILING_BYTES"), f.StreamCeilingBytes)
	f.BoundedTimeout = ParseDuration(l.key("BOUNDED_TIMEOUT"), f.BoundedTimeout)
	f.StreamTimeout = ParseDuration(l.key("STREAM_TIMEOUT"), f.StreamTimeout)
	f.StreamHeaderTimeout = ParseDuration(l.key("STREAM_HEADER_TIMEOUT"), f.StreamHeaderTimeout)
	f.ChunkRetries = ParseInt(l.key("CHUNK_RETRIES"), f.ChunkRetries)
	f.DefaultMode = ParseString(l.key("DEFAULT_MODE"), f.DefaultMode)

	t := &cfg.Telemetry
	t.Enabled = ParseBool(l.key("TRACING_ENABLED"), t.Enabled)
	t.ExporterType = ParseString(l.key("TRACING_EXPORTER"), t.ExporterType)
	t.Endpoint = ParseString(l.key("TRACING_ENDPOINT"), t.Endpoint)
	t.Insecure = ParseBool(l.key("TRACING_INSECURE"), t.Insecure)
	t.SamplingRate = ParseFloat(l.key("TRACING_SAMPLING_RATE"), t.SamplingRate)
	t.Environment = ParseString(l.key("ENVIRONMENT"), t.Environment)
}
