// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config provides configuration management for tunegate.
//
// Precedence is ENV > YAML file > defaults. A .env file, when present, seeds
// the process environment without overriding variables that are already set.
package config

import (
	"errors"
	"time"

	"github.com/ManuGH/tunegate/internal/resolver"
)

// ErrUnknownConfigField classifies strict YAML parse failures caused by unknown keys.
var ErrUnknownConfigField = errors.New("unknown config field")

// EnvPrefix is prepended to every environment key.
const EnvPrefix = "TUNEGATE_"

// Config is the complete service configuration.
type Config struct {
	Version string `yaml:"-"`

	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Fetcher   FetcherConfig   `yaml:"fetcher"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type LogConfig struct {
	Level   string `yaml:"level" validate:"required,oneof=trace debug info warn error"`
	Service string `yaml:"service" validate:"required"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listenAddr" validate:"required,hostname_port"`
	ReadTimeout     time.Duration `yaml:"readTimeout" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idleTimeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" validate:"gt=0"`
	// AllowedOrigins is the CORS allow-list; the first entry is the primary origin.
	AllowedOrigins []string        `yaml:"allowedOrigins" validate:"min=1,dive,url"`
	RateLimit      RateLimitConfig `yaml:"rateLimit"`
}

type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests" validate:"required_if=Enabled true,gte=0"`
	Window   time.Duration `yaml:"window" validate:"required_if=Enabled true"`
}

// UpstreamConfig is shared by every outbound client.
type UpstreamConfig struct {
	Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`
	UserAgent    string        `yaml:"userAgent" validate:"required"`
	RateLimit    float64       `yaml:"rateLimit" validate:"gt=0"`
	Burst        int           `yaml:"burst" validate:"gt=0"`
	MaxRetries   int           `yaml:"maxRetries" validate:"gte=0,lte=10"`
	RetryBackoff time.Duration `yaml:"retryBackoff" validate:"gt=0"`
}

// ResolverConfig configures the strategy chain.
type ResolverConfig struct {
	Timeout          time.Duration          `yaml:"timeout" validate:"gt=0"`
	BreakerThreshold int                    `yaml:"breakerThreshold" validate:"gte=1"`
	BreakerReset     time.Duration          `yaml:"breakerReset" validate:"gt=0"`
	InnertubeBase    string                 `yaml:"innertubeBase" validate:"required,http_url"`
	ClientProfile    resolver.ClientProfile `yaml:"clientProfile"`
	ExtractorEnabled bool                   `yaml:"extractorEnabled"`
	Mirrors          []string               `yaml:"mirrors" validate:"dive,http_url"`
	MirrorBudget     time.Duration          `yaml:"mirrorBudget" validate:"gt=0"`
}

// FetcherConfig configures the media fetcher.
type FetcherConfig struct {
	AllowedHosts        []string      `yaml:"allowedHosts" validate:"min=1,dive,required"`
	ThrottledHosts      []string      `yaml:"throttledHosts" validate:"dive,required"`
	ChunkSize           int64         `yaml:"chunkSize" validate:"gte=1024"`
	MaxBoundedBytes     int64         `yaml:"maxBoundedBytes" validate:"gt=0"`
	StreamCeilingBytes  int64         `yaml:"streamCeilingBytes" validate:"gtefield=MaxBoundedBytes"`
	BoundedTimeout      time.Duration `yaml:"boundedTimeout" validate:"gt=0"`
	StreamTimeout       time.Duration `yaml:"streamTimeout" validate:"gt=0"`
	StreamHeaderTimeout time.Duration `yaml:"streamHeaderTimeout" validate:"gt=0"`
	ChunkRetries        int           `yaml:"chunkRetries" validate:"gte=0,lte=10"`
	// DefaultMode applies to /audio requests without a mode parameter.
	DefaultMode string `yaml:"defaultMode" validate:"oneof=bounded stream"`
}

// TelemetryConfig mirrors telemetry.Config.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ExporterType string  `yaml:"exporter" validate:"oneof=grpc http"`
	Endpoint     string  `yaml:"endpoint" validate:"required_if=Enabled true"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"samplingRate" validate:"gte=0,lte=1"`
	Environment  string  `yaml:"environment"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Log: LogConfig{
			Level:   "info",
			Service: "tunegate",
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     15 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			AllowedOrigins:  []string{"http://localhost:5173"},
			RateLimit: RateLimitConfig{
				Enabled:  true,
				Requests: 120,
				Window:   time.Minute,
			},
		},
		Upstream: UpstreamConfig{
			Timeout:      10 * time.Second,
			UserAgent:    "tunegate/1.0",
			RateLimit:    10,
			Burst:        20,
			MaxRetries:   2,
			RetryBackoff: 250 * time.Millisecond,
		},
		Resolver: ResolverConfig{
			Timeout:          45 * time.Second,
			BreakerThreshold: 5,
			BreakerReset:     30 * time.Second,
			InnertubeBase:    resolver.DefaultInnertubeBase,
			ClientProfile:    resolver.DefaultClientProfile(),
			ExtractorEnabled: true,
			Mirrors: []string{
				"https://pipedapi.kavin.rocks",
				"https://pipedapi.adminforge.de",
				"https://api.piped.private.coffee",
			},
			MirrorBudget: resolver.DefaultMirrorBudget,
		},
		Fetcher: FetcherConfig{
			AllowedHosts:        []string{"googlevideo.com"},
			ThrottledHosts:      []string{"googlevideo.com"},
			ChunkSize:           256 << 10,
			MaxBoundedBytes:     25 << 20,
			StreamCeilingBytes:  512 << 20,
			BoundedTimeout:      60 * time.Second,
			StreamTimeout:       180 * time.Second,
			StreamHeaderTimeout: 15 * time.Second,
			ChunkRetries:        2,
			DefaultMode:         "stream",
		},
		Telemetry: TelemetryConfig{
			ExporterType: "grpc",
			SamplingRate: 1.0,
			Environment:  "production",
		},
	}
}
