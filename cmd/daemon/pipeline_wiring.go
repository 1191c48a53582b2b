// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"

	"golang.org/x/time/rate"

	"github.com/ManuGH/tunegate/internal/api"
	"github.com/ManuGH/tunegate/internal/api/middleware"
	"github.com/ManuGH/tunegate/internal/config"
	"github.com/ManuGH/tunegate/internal/fetcher"
	"github.com/ManuGH/tunegate/internal/platform/httpx"
	"github.com/ManuGH/tunegate/internal/resilience"
	"github.com/ManuGH/tunegate/internal/resolver"
	"github.com/ManuGH/tunegate/internal/telemetry"
	"github.com/ManuGH/tunegate/internal/upstream"
	"github.com/ManuGH/tunegate/internal/version"
)

// pipeline is one generation of request components built from a config
// snapshot. A reload builds a fresh one, breakers included.
type pipeline struct {
	resolver *resolver.Resolver
	fetcher  *fetcher.Fetcher
	mode     string
}

func (p *pipeline) api() *api.Pipeline {
	return &api.Pipeline{Resolver: p.resolver, Fetcher: p.fetcher, DefaultMode: p.mode}
}

func retryPolicy(maxRetries int, cfg config.UpstreamConfig) resilience.RetryPolicy {
	return resilience.RetryPolicy{
		MaxRetries:    maxRetries,
		BaseDelay:     cfg.RetryBackoff,
		MaxDelay:      8 * cfg.RetryBackoff,
		BackoffFactor: 2,
	}
}

func buildPipeline(cfg config.Config) (*pipeline, error) {
	up := cfg.Upstream
	profile := cfg.Resolver.ClientProfile

	metadataClient := func(name string, userAgent string, opts upstream.Options) *upstream.Client {
		opts.HTTPClient = httpx.NewClient(up.Timeout, httpx.WithTracing())
		opts.Timeout = up.Timeout
		opts.UserAgent = userAgent
		opts.RateLimit = rate.Limit(up.RateLimit)
		opts.RateLimitBurst = up.Burst
		opts.Retry = retryPolicy(up.MaxRetries, up)
		return upstream.NewClient(name, opts)
	}

	strategies := []resolver.Strategy{
		resolver.NewInnertubeStrategy(
			metadataClient("innertube", profile.UserAgent, upstream.Options{Header: profile.Header()}),
			cfg.Resolver.InnertubeBase,
			profile,
		),
	}
	if cfg.Resolver.ExtractorEnabled {
		strategies = append(strategies, resolver.NewExtractorStrategy(
			resolver.NewLibraryExtractor(httpx.NewClient(up.Timeout, httpx.WithTracing())),
		))
	}
	if len(cfg.Resolver.Mirrors) > 0 {
		strategies = append(strategies, resolver.NewMirrorPoolStrategy(
			metadataClient("mirrors", up.UserAgent, upstream.Options{}),
			resolver.MirrorPoolOptions{
				Mirrors:          cfg.Resolver.Mirrors,
				Budget:           cfg.Resolver.MirrorBudget,
				BreakerThreshold: cfg.Resolver.BreakerThreshold,
				BreakerReset:     cfg.Resolver.BreakerReset,
			},
		))
	}
	res := resolver.New(strategies, resolver.Options{
		BreakerThreshold: cfg.Resolver.BreakerThreshold,
		BreakerReset:     cfg.Resolver.BreakerReset,
		Timeout:          cfg.Resolver.Timeout,
	})

	// Media requests are never retried by the client: the fetcher owns
	// fallback and per-chunk retries.
	media := upstream.NewClient("media", upstream.Options{
		HTTPClient:     httpx.NewStreamingClient(cfg.Fetcher.StreamHeaderTimeout, httpx.WithTracing()),
		UserAgent:      up.UserAgent,
		RateLimit:      rate.Limit(up.RateLimit),
		RateLimitBurst: up.Burst,
		Retry:          resilience.RetryPolicy{MaxRetries: 0},
	})
	f, err := fetcher.New(media, fetcher.Config{
		AllowedSuffixes:    cfg.Fetcher.AllowedHosts,
		ThrottledSuffixes:  cfg.Fetcher.ThrottledHosts,
		ThrottledHeader:    profile.Header(),
		ChunkSize:          cfg.Fetcher.ChunkSize,
		MaxBoundedBytes:    cfg.Fetcher.MaxBoundedBytes,
		StreamCeilingBytes: cfg.Fetcher.StreamCeilingBytes,
		BoundedTimeout:     cfg.Fetcher.BoundedTimeout,
		StreamTimeout:      cfg.Fetcher.StreamTimeout,
		ChunkRetry:         retryPolicy(cfg.Fetcher.ChunkRetries, up),
	})
	if err != nil {
		return nil, fmt.Errorf("build fetcher: %w", err)
	}
	return &pipeline{resolver: res, fetcher: f, mode: cfg.Fetcher.DefaultMode}, nil
}

func stackConfig(cfg config.Config) middleware.StackConfig {
	return middleware.StackConfig{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		EnableMetrics:   true,
		TracingService:  "tunegate.http",
		EnableLogging:   true,
		EnableRateLimit: cfg.Server.RateLimit.Enabled,
		RateLimit:       cfg.Server.RateLimit.Requests,
		RateLimitWindow: cfg.Server.RateLimit.Window,
	}
}

func telemetryConfig(cfg config.Config) telemetry.Config {
	return telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Log.Service,
		ServiceVersion: version.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	}
}
