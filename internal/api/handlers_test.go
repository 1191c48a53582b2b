// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/tunegate/internal/fetcher"
	"github.com/ManuGH/tunegate/internal/resolver"
	"github.com/ManuGH/tunegate/internal/upstream"
)

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestNew_RequiresPipeline(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrNilPipeline)

	_, err = New(Options{Pipeline: &Pipeline{Resolver: &fakeResolver{}, Fetcher: &fakeFetcher{}, DefaultMode: "chunked"}})
	assert.ErrorIs(t, err, ErrInvalidDelivery)
}

func TestStreams_Success(t *testing.T) {
	r := &fakeResolver{res: &resolver.Resolution{VideoID: "dQw4w9WgXcQ", Source: resolver.SourceSecondary, Candidates: testCandidates}}
	s := newTestServer(t, r, &fakeFetcher{}, DeliveryStream)

	w := serve(s, http.MethodGet, "/streams?videoId=dQw4w9WgXcQ")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, cacheStreams, w.Header().Get("Cache-Control"))
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	var body streamsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "secondary", body.Source)
	if diff := cmp.Diff(testCandidates, body.AudioStreams); diff != "" {
		t.Errorf("audioStreams mismatch (-want +got):\n%s", diff)
	}
}

func TestStreams_Errors(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		err        error
		wantCode   int
		wantBody   string
		wantCalled bool
	}{
		{name: "missing id", target: "/streams", wantCode: http.StatusBadRequest, wantBody: `{"error":"missing videoId"}`},
		{name: "blank id", target: "/streams?videoId=%20", wantCode: http.StatusBadRequest, wantBody: `{"error":"missing videoId"}`},
		{name: "malformed id", target: "/streams?videoId=short", err: resolver.ErrInvalidVideoID, wantCode: http.StatusBadRequest, wantBody: `{"error":"invalid videoId"}`, wantCalled: true},
		{name: "exhausted", target: "/streams?videoId=dQw4w9WgXcQ", err: resolver.ErrAllSourcesUnavailable, wantCode: http.StatusServiceUnavailable, wantBody: `{"error":"no audio streams available","audioStreams":[]}`, wantCalled: true},
		{name: "cancelled", target: "/streams?videoId=dQw4w9WgXcQ", err: upstream.ErrCancelled, wantCode: http.StatusServiceUnavailable, wantBody: `{"error":"no audio streams available","audioStreams":[]}`, wantCalled: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeResolver{err: tt.err}
			s := newTestServer(t, r, &fakeFetcher{}, DeliveryStream)

			w := serve(s, http.MethodGet, tt.target)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
			assert.Equal(t, cacheNone, w.Header().Get("Cache-Control"))
			assert.Equal(t, tt.wantCalled, r.calls.Load() > 0)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, &fakeResolver{}, &fakeFetcher{}, DeliveryStream)
	for _, target := range []string{"/streams?videoId=dQw4w9WgXcQ", "/audio?url=x"} {
		for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
			w := serve(s, method, target)
			assert.Equal(t, http.StatusMethodNotAllowed, w.Code, "%s %s", method, target)
			assert.JSONEq(t, `{"error":"method not allowed"}`, w.Body.String())
		}
	}
}

func TestPreflight(t *testing.T) {
	s := newTestServer(t, &fakeResolver{}, &fakeFetcher{}, DeliveryStream)
	for _, target := range []string{"/streams", "/audio"} {
		req := httptest.NewRequest(http.MethodOptions, target, nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code, target)
		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "GET")
	}
}

func TestAudio_Bounded(t *testing.T) {
	data := []byte("audio-payload")
	f := &fakeFetcher{result: &fetcher.Result{ContentType: "audio/mp4", Data: data}}
	s := newTestServer(t, &fakeResolver{}, f, DeliveryStream)

	w := serve(s, http.MethodGet, "/audio?mode=bounded&url=https%3A%2F%2Frr1.googlevideo.com%2Fvideoplayback%3Fclen%3D13")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/mp4", w.Header().Get("Content-Type"))
	assert.Equal(t, "13", w.Header().Get("Content-Length"))
	assert.Equal(t, cacheAudio, w.Header().Get("Cache-Control"))
	assert.Equal(t, data, w.Body.Bytes())
	assert.Equal(t, "https://rr1.googlevideo.com/videoplayback?clen=13", f.lastURL.Load())
	assert.Equal(t, int32(0), f.streamCalls.Load())
}

func TestAudio_DefaultModeFromPipeline(t *testing.T) {
	f := &fakeFetcher{
		result: &fetcher.Result{Data: []byte("x")},
		meta:   fetcher.Metadata{ContentType: "audio/webm", ContentLength: 1},
		chunks: [][]byte{[]byte("x")},
	}
	s := newTestServer(t, &fakeResolver{}, f, DeliveryBounded)
	w := serve(s, http.MethodGet, "/audio?url=https://rr1.googlevideo.com/a")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultContentType, w.Header().Get("Content-Type"))
	assert.Equal(t, int32(1), f.fetchCalls.Load())

	require.NoError(t, s.SetPipeline(&Pipeline{Resolver: &fakeResolver{}, Fetcher: f, DefaultMode: DeliveryStream}))
	w = serve(s, http.MethodGet, "/audio?url=https://rr1.googlevideo.com/a")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/webm", w.Header().Get("Content-Type"))
	assert.Equal(t, int32(1), f.streamCalls.Load())
}

func TestAudio_Stream(t *testing.T) {
	f := &fakeFetcher{
		meta:   fetcher.Metadata{ContentType: "audio/mp4", ContentLength: 9},
		chunks: [][]byte{[]byte("abc"), []byte("def"), []byte("ghi")},
	}
	s := newTestServer(t, &fakeResolver{}, f, DeliveryStream)

	w := serve(s, http.MethodGet, "/audio?url=https://rr1.googlevideo.com/a")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/mp4", w.Header().Get("Content-Type"))
	assert.Equal(t, "9", w.Header().Get("Content-Length"))
	assert.Equal(t, cacheAudio, w.Header().Get("Cache-Control"))
	assert.Equal(t, "abcdefghi", w.Body.String())
	assert.True(t, w.Flushed)
}

func TestAudio_StreamUnknownLengthOmitsHeader(t *testing.T) {
	f := &fakeFetcher{
		meta:   fetcher.Metadata{ContentType: "audio/mp4", ContentLength: -1},
		chunks: [][]byte{[]byte("abc")},
	}
	s := newTestServer(t, &fakeResolver{}, f, DeliveryStream)
	w := serve(s, http.MethodGet, "/audio?url=https://rr1.googlevideo.com/a")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Content-Length"))
}

func TestAudio_Errors(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		err      error
		wantCode int
		wantBody string
	}{
		{name: "missing url", target: "/audio", wantCode: http.StatusBadRequest, wantBody: `{"error":"missing url"}`},
		{name: "unknown mode", target: "/audio?url=https://rr1.googlevideo.com/a&mode=chunked", wantCode: http.StatusBadRequest, wantBody: `{"error":"invalid mode"}`},
		{name: "host not allowed", target: "/audio?url=https://evil.com/a", err: fetcher.ErrUnauthorizedHost, wantCode: http.StatusForbidden, wantBody: `{"error":"host not allowed"}`},
		{name: "no data", target: "/audio?url=https://rr1.googlevideo.com/a", err: fetcher.ErrNoData, wantCode: http.StatusBadGateway, wantBody: `{"error":"upstream fetch failed"}`},
		{name: "upstream rejected", target: "/audio?url=https://rr1.googlevideo.com/a", err: upstream.Rejected("fetch direct", 404, "Not Found"), wantCode: http.StatusBadGateway, wantBody: `{"error":"upstream fetch failed"}`},
		{name: "too large", target: "/audio?url=https://cdn.example.com/a&mode=bounded", err: fmt.Errorf("sink write: %w", fetcher.ErrTooLarge), wantCode: http.StatusBadGateway, wantBody: `{"error":"media exceeds bounded limit"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeResolver{}, &fakeFetcher{preErr: tt.err}, DeliveryStream)
			w := serve(s, http.MethodGet, tt.target)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
			assert.Equal(t, cacheNone, w.Header().Get("Cache-Control"))
			assert.NotContains(t, w.Body.String(), "upstream:", "internal error text must not leak")
		})
	}
}

func TestAudio_StreamFailureAfterBytesAbortsConnection(t *testing.T) {
	f := &fakeFetcher{
		meta:      fetcher.Metadata{ContentType: "audio/mp4", ContentLength: -1},
		chunks:    [][]byte{[]byte("partial")},
		streamErr: fmt.Errorf("%w: %w", fetcher.ErrStreamAborted, errors.New("chunk failed")),
	}
	s := newTestServer(t, &fakeResolver{}, f, DeliveryStream)

	assert.PanicsWithError(t, http.ErrAbortHandler.Error(), func() {
		serve(s, http.MethodGet, "/audio?url=https://rr1.googlevideo.com/a")
	})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/audio?url=https://rr1.googlevideo.com/a")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "status was committed before the failure")
	_, err = io.ReadAll(resp.Body)
	assert.Error(t, err, "client must observe a truncated body")
}

func TestHealthEndpointsAndMetrics(t *testing.T) {
	s := newTestServer(t, &fakeResolver{}, &fakeFetcher{}, DeliveryStream)

	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/healthz").Code)
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/readyz").Code)

	w := serve(s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")

	w = serve(s, http.MethodGet, "/openapi.yaml")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, OpenAPISpec(), w.Body.Bytes())

	w = serve(s, http.MethodGet, "/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"not found"}`, w.Body.String())
}

func TestRequestIDEchoed(t *testing.T) {
	s := newTestServer(t, &fakeResolver{err: resolver.ErrAllSourcesUnavailable}, &fakeFetcher{}, DeliveryStream)
	req := httptest.NewRequest(http.MethodGet, "/streams?videoId=dQw4w9WgXcQ", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}
