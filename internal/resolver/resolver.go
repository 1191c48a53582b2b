// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resolver

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/tunegate/internal/log"
	"github.com/ManuGH/tunegate/internal/metrics"
	"github.com/ManuGH/tunegate/internal/resilience"
	"github.com/ManuGH/tunegate/internal/telemetry"
	"github.com/ManuGH/tunegate/internal/upstream"
)

const (
	defaultBreakerThreshold = 5
	defaultBreakerReset     = 30 * time.Second
	defaultResolveTimeout   = 45 * time.Second
)

// Options configures a Resolver.
type Options struct {
	BreakerThreshold int
	BreakerReset     time.Duration
	// Timeout bounds one shared resolution, independent of any single caller.
	Timeout        time.Duration
	BreakerOptions []resilience.Option
}

type entry struct {
	strategy Strategy
	breaker  *resilience.CircuitBreaker
}

// Resolver evaluates strategies in order and stops at the first that yields candidates.
type Resolver struct {
	entries []entry
	timeout time.Duration
	group   singleflight.Group
}

// New builds a Resolver. Each strategy gets its own breaker named "resolver.<name>".
func New(strategies []Strategy, opts Options) *Resolver {
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = defaultBreakerThreshold
	}
	if opts.BreakerReset <= 0 {
		opts.BreakerReset = defaultBreakerReset
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultResolveTimeout
	}
	// Refusals of a single video must not take the whole source offline.
	breakerOpts := append([]resilience.Option{resilience.WithIsSuccessful(upstream.IsItemRejection)}, opts.BreakerOptions...)
	r := &Resolver{timeout: opts.Timeout}
	for _, s := range strategies {
		if s == nil {
			continue
		}
		r.entries = append(r.entries, entry{
			strategy: s,
			breaker:  resilience.NewCircuitBreaker("resolver."+s.Name(), opts.BreakerThreshold, opts.BreakerReset, breakerOpts...),
		})
	}
	return r
}

// Sources lists strategy names in evaluation order.
func (r *Resolver) Sources() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.strategy.Name()
	}
	return out
}

// Breakers returns the per-strategy breakers, for health reporting.
func (r *Resolver) Breakers() []*resilience.CircuitBreaker {
	out := make([]*resilience.CircuitBreaker, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.breaker)
		if bp, ok := e.strategy.(interface {
			Breakers() []*resilience.CircuitBreaker
		}); ok {
			out = append(out, bp.Breakers()...)
		}
	}
	return out
}

// Resolve returns the first non-empty candidate list. Concurrent calls for the
// same videoID share one in-flight resolution; nothing is kept afterwards.
// On exhaustion it returns an empty Resolution together with ErrAllSourcesUnavailable.
func (r *Resolver) Resolve(ctx context.Context, videoID string) (*Resolution, error) {
	if err := ValidateVideoID(videoID); err != nil {
		return nil, err
	}

	ch := r.group.DoChan(videoID, func() (interface{}, error) {
		// Detached so one impatient caller does not cancel the work others wait on.
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.resolve(runCtx, videoID)
	})

	select {
	case <-ctx.Done():
		return nil, upstream.Cancelled("resolve", ctx.Err())
	case res := <-ch:
		resolution, _ := res.Val.(*Resolution)
		return resolution.clone(), res.Err
	}
}

func (r *Resolver) resolve(ctx context.Context, videoID string) (*Resolution, error) {
	logger := log.WithComponentFromContext(ctx, "resolver").With().Str(log.FieldVideoID, videoID).Logger()
	res := &Resolution{VideoID: videoID, Candidates: []StreamCandidate{}}

	for _, e := range r.entries {
		name := e.strategy.Name()
		if err := ctx.Err(); err != nil {
			res.Outcomes = append(res.Outcomes, Outcome{Source: name, Err: upstream.Cancelled(name, err)})
			continue
		}

		start := time.Now()
		candidates, err := r.attempt(ctx, e, videoID)
		metrics.IncResolverAttempt(name, err == nil)
		if err == nil {
			metrics.ObserveResolution(name, time.Since(start))
			res.Source = name
			res.Candidates = candidates
			res.Outcomes = append(res.Outcomes, Outcome{Source: name, Candidates: candidates, Succeeded: true})
			logger.Info().
				Str(log.FieldEvent, "resolver.resolved").
				Str(log.FieldSource, name).
				Int("candidates", len(candidates)).
				Dur("duration", time.Since(start)).
				Msg("stream candidates resolved")
			return res, nil
		}

		res.Outcomes = append(res.Outcomes, Outcome{Source: name, Err: err})
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "resolver.strategy_failed").
			Str(log.FieldSource, name).
			Str("kind", upstream.KindLabel(err)).
			Msg("resolution strategy failed, advancing")
	}

	logger.Warn().
		Str(log.FieldEvent, "resolver.exhausted").
		Int("attempts", len(res.Outcomes)).
		Msg("all resolution strategies failed")
	return res, fmt.Errorf("%w: %d strategies failed", ErrAllSourcesUnavailable, len(res.Outcomes))
}

func (r *Resolver) attempt(ctx context.Context, e entry, videoID string) ([]StreamCandidate, error) {
	name := e.strategy.Name()
	ctx, span := telemetry.Tracer("tunegate.resolver").Start(ctx, "tunegate.resolver.strategy")
	span.SetAttributes(telemetry.ResolverAttributes(videoID, name)...)
	defer span.End()

	var candidates []StreamCandidate
	err := e.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		c, err := e.strategy.Resolve(ctx, videoID)
		if err != nil {
			return err
		}
		if len(c) == 0 {
			return upstream.NoUsableData(name, "no audio candidates")
		}
		candidates = c
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(telemetry.ErrorAttributes(err, upstream.KindLabel(err))...)
		span.SetStatus(codes.Error, upstream.KindLabel(err))
		return nil, err
	}
	span.SetAttributes(attribute.Int(telemetry.ResolverCandidatesKey, len(candidates)))
	span.SetStatus(codes.Ok, "")
	return candidates, nil
}
