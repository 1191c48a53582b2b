// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ResolverAttempts counts strategy attempts by source and result.
	ResolverAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunegate_resolver_attempts_total",
		Help: "Stream resolver strategy attempts by source and result",
	}, []string{"source", "result"})

	// ResolverDuration tracks the time taken by a full resolution call.
	ResolverDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tunegate_resolver_duration_seconds",
		Help:    "Time from resolve request to winning source or exhaustion",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13, 20, 30},
	}, []string{"source"})

	// MirrorAttempts counts individual mirror requests inside the mirror pool.
	MirrorAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunegate_resolver_mirror_attempts_total",
		Help: "Mirror pool requests by mirror host and result",
	}, []string{"mirror", "result"})
)

// IncResolverAttempt records a strategy outcome.
func IncResolverAttempt(source string, success bool) {
	ResolverAttempts.WithLabelValues(source, resultLabel(success)).Inc()
}

// ObserveResolution records the duration of a resolution. source is
// "exhausted" when no strategy produced candidates.
func ObserveResolution(source string, d time.Duration) {
	ResolverDuration.WithLabelValues(source).Observe(d.Seconds())
}

// IncMirrorAttempt records a single mirror outcome.
func IncMirrorAttempt(mirror string, success bool) {
	MirrorAttempts.WithLabelValues(mirror, resultLabel(success)).Inc()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
