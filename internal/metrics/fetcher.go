// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchBytes counts bytes delivered to callers by fetch mode.
	FetchBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunegate_fetch_bytes_total",
		Help: "Bytes delivered by the media fetcher by transfer mode",
	}, []string{"mode"})

	// FetchTotal counts fetch sessions by delivery kind, mode and result.
	FetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunegate_fetch_sessions_total",
		Help: "Media fetch sessions by delivery (bounded/stream), mode and result",
	}, []string{"delivery", "mode", "result"})

	// FetchChunks counts chunk requests issued by the chunked range strategy.
	FetchChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tunegate_fetch_chunk_requests_total",
		Help: "Range requests issued by the chunked retrieval strategy",
	})

	// FetchRejected counts locators refused by the host allow-list.
	FetchRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tunegate_fetch_unauthorized_total",
		Help: "Fetch requests rejected by the host allow-list",
	})
)

// AddFetchBytes records delivered bytes.
func AddFetchBytes(mode string, n int64) {
	if n <= 0 {
		return
	}
	FetchBytes.WithLabelValues(mode).Add(float64(n))
}

// IncFetch records a finished fetch session.
func IncFetch(delivery, mode string, success bool) {
	FetchTotal.WithLabelValues(delivery, mode, resultLabel(success)).Inc()
}

// IncFetchChunk records a chunk request.
func IncFetchChunk() {
	FetchChunks.Inc()
}

// IncFetchRejected records an allow-list rejection.
func IncFetchRejected() {
	FetchRejected.Inc()
}
