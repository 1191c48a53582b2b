// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resolver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/tunegate/internal/upstream"
)

type countingMirror struct {
	*httptest.Server
	calls atomic.Int32
}

func newMirror(t *testing.T, h http.HandlerFunc) *countingMirror {
	t.Helper()
	m := &countingMirror{}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.calls.Add(1)
		h(w, r)
	}))
	t.Cleanup(m.Close)
	return m
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

const mirrorOK = `{"audioStreams":[{"url":"https://cdn.example/a?clen=321","mimeType":"audio/mp4","bitrate":128000,"quality":"128 kbps"}]}`

func TestMirrorPool_AdvancesPastFailures(t *testing.T) {
	down := newMirror(t, respond(http.StatusBadGateway, ""))
	garbage := newMirror(t, respond(http.StatusOK, `not json`))
	empty := newMirror(t, respond(http.StatusOK, `{"audioStreams":[]}`))
	good := newMirror(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/streams/"+testVideoID, r.URL.Path)
		_, _ = io.WriteString(w, mirrorOK)
	})
	unused := newMirror(t, respond(http.StatusOK, mirrorOK))

	s := NewMirrorPoolStrategy(testClient("mirror"), MirrorPoolOptions{
		Mirrors: []string{down.URL, garbage.URL, empty.URL, good.URL, unused.URL},
	})
	got, err := s.Resolve(context.Background(), testVideoID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "audio/mp4", got[0].MimeType)
	assert.Equal(t, "128 kbps", got[0].Quality)
	assert.Equal(t, int64(321), got[0].ContentLength)
	assert.Equal(t, int32(0), unused.calls.Load())
}

func TestMirrorPool_AllFail(t *testing.T) {
	a := newMirror(t, respond(http.StatusNotFound, ""))
	b := newMirror(t, respond(http.StatusOK, `{"error":"x"}`))

	_, err := NewMirrorPoolStrategy(testClient("mirror"), MirrorPoolOptions{Mirrors: []string{a.URL, b.URL}}).
		Resolve(context.Background(), testVideoID)
	require.Error(t, err)
	assert.ErrorIs(t, err, upstream.ErrUpstreamRejected)
	assert.ErrorIs(t, err, upstream.ErrNoUsableData)
}

func TestMirrorPool_NoMirrorStartedAfterBudget(t *testing.T) {
	slow := newMirror(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	late := newMirror(t, respond(http.StatusOK, mirrorOK))

	s := NewMirrorPoolStrategy(testClient("mirror"), MirrorPoolOptions{
		Mirrors: []string{slow.URL, late.URL},
		Budget:  50 * time.Millisecond,
	})
	start := time.Now()
	_, err := s.Resolve(context.Background(), testVideoID)
	require.Error(t, err)
	assert.ErrorIs(t, err, upstream.ErrCancelled)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(0), late.calls.Load(), "no mirror may be queried after the shared budget expired")
}

func TestMirrorPool_BreakerSkipsDeadMirror(t *testing.T) {
	dead := newMirror(t, respond(http.StatusForbidden, ""))
	good := newMirror(t, respond(http.StatusOK, mirrorOK))

	s := NewMirrorPoolStrategy(testClient("mirror"), MirrorPoolOptions{
		Mirrors:          []string{dead.URL, good.URL},
		BreakerThreshold: 1,
		BreakerReset:     time.Hour,
	})
	for i := 0; i < 3; i++ {
		_, err := s.Resolve(context.Background(), testVideoID)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), dead.calls.Load())
	assert.Equal(t, int32(3), good.calls.Load())
}

func TestMirrorPool_NoMirrors(t *testing.T) {
	_, err := NewMirrorPoolStrategy(nil, MirrorPoolOptions{}).Resolve(context.Background(), testVideoID)
	assert.ErrorIs(t, err, upstream.ErrNoUsableData)
}
