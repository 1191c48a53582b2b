// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ManuGH/tunegate/internal/log"
	"github.com/ManuGH/tunegate/internal/metrics"
	"github.com/ManuGH/tunegate/internal/resilience"
	"github.com/ManuGH/tunegate/internal/upstream"
)

// DefaultMirrorBudget covers the whole pool, not each mirror.
const DefaultMirrorBudget = 15 * time.Second

// MirrorPoolOptions configures the mirror pool strategy.
type MirrorPoolOptions struct {
	Mirrors          []string
	Budget           time.Duration
	BreakerThreshold int
	BreakerReset     time.Duration
	BreakerOptions   []resilience.Option
}

type mirror struct {
	base    string
	label   string
	breaker *resilience.CircuitBreaker
}

// MirrorPoolStrategy tries aggregator mirrors in a fixed order under one shared budget.
type MirrorPoolStrategy struct {
	name    string
	client  *upstream.Client
	budget  time.Duration
	mirrors []mirror
}

type mirrorStreamsResponse struct {
	AudioStreams []struct {
		URL           string `json:"url"`
		MimeType      string `json:"mimeType"`
		Bitrate       int    `json:"bitrate"`
		Quality       string `json:"quality"`
		ContentLength int64  `json:"contentLength"`
	} `json:"audioStreams"`
}

// NewMirrorPoolStrategy returns the tertiary strategy.
func NewMirrorPoolStrategy(client *upstream.Client, opts MirrorPoolOptions) *MirrorPoolStrategy {
	if opts.Budget <= 0 {
		opts.Budget = DefaultMirrorBudget
	}
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = defaultBreakerThreshold
	}
	if opts.BreakerReset <= 0 {
		opts.BreakerReset = defaultBreakerReset
	}
	s := &MirrorPoolStrategy{name: SourceMirrorPool, client: client, budget: opts.Budget}
	for _, raw := range opts.Mirrors {
		base := strings.TrimRight(strings.TrimSpace(raw), "/")
		if base == "" {
			continue
		}
		label := mirrorLabel(base)
		s.mirrors = append(s.mirrors, mirror{
			base:    base,
			label:   label,
			breaker: resilience.NewCircuitBreaker("mirror."+label, opts.BreakerThreshold, opts.BreakerReset, opts.BreakerOptions...),
		})
	}
	return s
}

func (s *MirrorPoolStrategy) Name() string { return s.name }

// Breakers returns the per-mirror breakers.
func (s *MirrorPoolStrategy) Breakers() []*resilience.CircuitBreaker {
	out := make([]*resilience.CircuitBreaker, len(s.mirrors))
	for i, m := range s.mirrors {
		out[i] = m.breaker
	}
	return out
}

func (s *MirrorPoolStrategy) Resolve(ctx context.Context, videoID string) ([]StreamCandidate, error) {
	if len(s.mirrors) == 0 {
		return nil, upstream.NoUsableData(s.name, "no mirrors configured")
	}

	ctx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	logger := log.WithComponentFromContext(ctx, "resolver").With().Str(log.FieldVideoID, videoID).Logger()
	var errs []error
	for _, m := range s.mirrors {
		if err := ctx.Err(); err != nil {
			logger.Warn().
				Str(log.FieldEvent, "resolver.mirror_budget_exhausted").
				Dur("budget", s.budget).
				Int("tried", len(errs)).
				Msg("mirror pool budget exhausted")
			return nil, upstream.Cancelled(s.name, err)
		}

		var candidates []StreamCandidate
		err := m.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
			c, err := s.query(ctx, m, videoID)
			candidates = c
			return err
		})
		metrics.IncMirrorAttempt(m.label, err == nil)
		if err == nil {
			return candidates, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.label, err))
		logger.Debug().
			Err(err).
			Str(log.FieldEvent, "resolver.mirror_failed").
			Str(log.FieldMirror, m.label).
			Msg("mirror failed, trying next")
	}
	return nil, fmt.Errorf("%s: all %d mirrors failed: %w", s.name, len(s.mirrors), errors.Join(errs...))
}

func (s *MirrorPoolStrategy) query(ctx context.Context, m mirror, videoID string) ([]StreamCandidate, error) {
	op := s.name + " " + m.label
	resp, err := s.client.Do(ctx, upstream.Request{
		URL:    m.base + "/streams/" + url.PathEscape(videoID),
		Header: http.Header{"Accept": []string{"application/json"}},
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		upstream.Drain(resp)
		return nil, upstream.Rejected(op, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var body mirrorStreamsResponse
	if err := upstream.DecodeJSON(op, resp, &body); err != nil {
		return nil, err
	}
	var out []StreamCandidate
	for _, a := range body.AudioStreams {
		if a.URL == "" {
			continue
		}
		size := a.ContentLength
		if size <= 0 {
			size = SizeHint(a.URL)
		}
		out = append(out, StreamCandidate{
			URL:           a.URL,
			MimeType:      a.MimeType,
			Bitrate:       a.Bitrate,
			Quality:       normalizeQuality(a.Quality),
			ContentLength: size,
		})
	}
	if len(out) == 0 {
		return nil, upstream.NoUsableData(op, "empty audioStreams")
	}
	return out, nil
}

func mirrorLabel(base string) string {
	if u, err := url.Parse(base); err == nil && u.Host != "" {
		return u.Host
	}
	return base
}
