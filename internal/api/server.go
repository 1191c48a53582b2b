// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api is the HTTP boundary: stream resolution and audio proxying.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/tunegate/internal/api/middleware"
	"github.com/ManuGH/tunegate/internal/fetcher"
	"github.com/ManuGH/tunegate/internal/health"
	"github.com/ManuGH/tunegate/internal/log"
	"github.com/ManuGH/tunegate/internal/resolver"
)

// Delivery modes accepted by /audio.
const (
	DeliveryBounded = "bounded"
	DeliveryStream  = "stream"
)

var (
	ErrNilPipeline     = errors.New("api: pipeline is required")
	ErrInvalidDelivery = errors.New("api: delivery mode must be bounded or stream")
)

// StreamResolver turns a video id into audio candidates.
type StreamResolver interface {
	Resolve(ctx context.Context, videoID string) (*resolver.Resolution, error)
}

// MediaFetcher retrieves media bytes from an upstream locator.
type MediaFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetcher.Result, error)
	Stream(ctx context.Context, rawURL string, sink fetcher.Sink) (*fetcher.Session, error)
}

// Pipeline is the set of components a request runs against. It is replaced
// as a whole on config reload; in-flight requests finish on the old one.
type Pipeline struct {
	Resolver    StreamResolver
	Fetcher     MediaFetcher
	DefaultMode string
}

func (p *Pipeline) validate() error {
	if p == nil || p.Resolver == nil || p.Fetcher == nil {
		return ErrNilPipeline
	}
	if p.DefaultMode != DeliveryBounded && p.DefaultMode != DeliveryStream {
		return fmt.Errorf("%w: %q", ErrInvalidDelivery, p.DefaultMode)
	}
	return nil
}

// Options configure a Server.
type Options struct {
	Version  string
	Stack    middleware.StackConfig
	Health   *health.Manager
	Pipeline *Pipeline
}

// Server serves the public API. It is safe for concurrent use.
type Server struct {
	version  string
	stack    middleware.StackConfig
	health   *health.Manager
	pipeline atomic.Pointer[Pipeline]

	handlerOnce sync.Once
	handler     http.Handler
}

// New validates opts and returns a Server.
func New(opts Options) (*Server, error) {
	if err := opts.Pipeline.validate(); err != nil {
		return nil, err
	}
	hm := opts.Health
	if hm == nil {
		hm = health.NewManager(opts.Version)
	}
	s := &Server{version: opts.Version, stack: opts.Stack, health: hm}
	s.pipeline.Store(opts.Pipeline)
	return s, nil
}

// SetPipeline swaps the components used by subsequent requests.
func (s *Server) SetPipeline(p *Pipeline) error {
	if err := p.validate(); err != nil {
		return err
	}
	s.pipeline.Store(p)
	logger := log.WithComponent("api")
	logger.Info().
		Str(log.FieldEvent, "api.pipeline_swapped").
		Str(log.FieldMode, p.DefaultMode).
		Msg("request pipeline replaced")
	return nil
}

// Pipeline returns the components currently serving requests.
func (s *Server) Pipeline() *Pipeline {
	return s.pipeline.Load()
}

// HealthManager exposes the probe manager so callers can register checks.
func (s *Server) HealthManager() *health.Manager {
	return s.health
}

// Handler returns the HTTP handler with all routes and middleware applied.
func (s *Server) Handler() http.Handler {
	s.handlerOnce.Do(func() {
		s.handler = s.routes()
	})
	return s.handler
}
