// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetCircuitBreakerState_OnlyActiveStateIsOne(t *testing.T) {
	SetCircuitBreakerState("test-breaker", "open")

	assert.Equal(t, 1.0, testutil.ToFloat64(circuitBreakerState.WithLabelValues("test-breaker", "open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(circuitBreakerState.WithLabelValues("test-breaker", "closed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(circuitBreakerState.WithLabelValues("test-breaker", "half-open")))

	SetCircuitBreakerState("test-breaker", "closed")
	assert.Equal(t, 1.0, testutil.ToFloat64(circuitBreakerState.WithLabelValues("test-breaker", "closed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(circuitBreakerState.WithLabelValues("test-breaker", "open")))
}

func TestIncResolverAttempt_Labels(t *testing.T) {
	before := testutil.ToFloat64(ResolverAttempts.WithLabelValues("metrics-test", "failure"))
	IncResolverAttempt("metrics-test", false)
	after := testutil.ToFloat64(ResolverAttempts.WithLabelValues("metrics-test", "failure"))
	assert.Equal(t, before+1, after)
}

func TestAddFetchBytes_IgnoresNonPositive(t *testing.T) {
	before := testutil.ToFloat64(FetchBytes.WithLabelValues("metrics-test"))
	AddFetchBytes("metrics-test", 0)
	AddFetchBytes("metrics-test", -5)
	AddFetchBytes("metrics-test", 1024)
	assert.Equal(t, before+1024, testutil.ToFloat64(FetchBytes.WithLabelValues("metrics-test")))
}

func TestObserveResolution_Histogram(t *testing.T) {
	ObserveResolution("metrics-test", 1500*time.Millisecond)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	var found *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "tunegate_resolver_duration_seconds" {
			found = mf
		}
	}
	require.NotNil(t, found, "histogram must be registered")

	var count uint64
	for _, m := range found.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "source" && lp.GetValue() == "metrics-test" {
				count = m.GetHistogram().GetSampleCount()
			}
		}
	}
	assert.GreaterOrEqual(t, count, uint64(1))
}
