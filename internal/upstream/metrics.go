// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package upstream

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunegate_upstream_request_total",
			Help: "Total number of upstream HTTP request attempts",
		},
		[]string{"client", "method", "status_class"},
	)
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tunegate_upstream_request_duration_seconds",
			Help:    "Time to response headers of upstream HTTP requests per attempt",
			Buckets: prometheus.ExponentialBuckets(0.05, 2.0, 8),
		},
		[]string{"client", "method", "status_class"},
	)
	requestRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunegate_upstream_request_retries_total",
			Help: "Number of upstream request retries performed",
		},
		[]string{"client", "status_class"},
	)
)

func recordAttemptMetrics(client, method string, status int, duration time.Duration, err error) {
	class := statusClass(err, status)
	requestTotal.WithLabelValues(client, method, class).Inc()
	requestDuration.WithLabelValues(client, method, class).Observe(duration.Seconds())
}

func recordRetry(client string, err error) {
	requestRetries.WithLabelValues(client, statusClass(err, StatusOf(err))).Inc()
}

func statusClass(err error, status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	case err != nil:
		return "error"
	default:
		return "unknown"
	}
}
