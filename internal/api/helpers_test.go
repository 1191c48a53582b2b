// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ManuGH/tunegate/internal/api/middleware"
	"github.com/ManuGH/tunegate/internal/fetcher"
	"github.com/ManuGH/tunegate/internal/resolver"
)

type fakeResolver struct {
	res   *resolver.Resolution
	err   error
	calls atomic.Int32
}

func (f *fakeResolver) Resolve(_ context.Context, videoID string) (*resolver.Resolution, error) {
	f.calls.Add(1)
	if f.err != nil {
		return &resolver.Resolution{VideoID: videoID, Candidates: []resolver.StreamCandidate{}}, f.err
	}
	return f.res, nil
}

// fakeFetcher replays meta and chunks into the sink, then returns streamErr.
// preErr fails before anything reaches the sink.
type fakeFetcher struct {
	result    *fetcher.Result
	preErr    error
	meta      fetcher.Metadata
	chunks    [][]byte
	streamErr error

	fetchCalls  atomic.Int32
	streamCalls atomic.Int32
	lastURL     atomic.Value
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (*fetcher.Result, error) {
	f.fetchCalls.Add(1)
	f.lastURL.Store(rawURL)
	if f.preErr != nil {
		return nil, f.preErr
	}
	return f.result, nil
}

func (f *fakeFetcher) Stream(_ context.Context, rawURL string, sink fetcher.Sink) (*fetcher.Session, error) {
	f.streamCalls.Add(1)
	f.lastURL.Store(rawURL)
	if f.preErr != nil {
		return nil, f.preErr
	}
	sess := &fetcher.Session{ID: "test", Mode: fetcher.ModeChunkedRange}
	if len(f.chunks) > 0 {
		if err := sink.Start(f.meta); err != nil {
			return sess, err
		}
	}
	for _, c := range f.chunks {
		n, err := sink.Write(c)
		sess.Transferred += int64(n)
		if err != nil {
			return sess, err
		}
	}
	return sess, f.streamErr
}

var testCandidates = []resolver.StreamCandidate{{
	URL:           "https://rr1---sn-abc.googlevideo.com/videoplayback?clen=1000000",
	MimeType:      "audio/mp4",
	Bitrate:       128000,
	Quality:       "medium",
	ContentLength: 1000000,
}}

func newTestServer(t *testing.T, r *fakeResolver, f *fakeFetcher, defaultMode string) *Server {
	t.Helper()
	s, err := New(Options{
		Version: "test",
		Stack: middleware.StackConfig{
			AllowedOrigins: []string{"https://app.example.com"},
			EnableLogging:  true,
		},
		Pipeline: &Pipeline{Resolver: r, Fetcher: f, DefaultMode: defaultMode},
	})
	require.NoError(t, err)
	return s
}
