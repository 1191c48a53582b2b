// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/tunegate/internal/resilience"
	"github.com/ManuGH/tunegate/internal/upstream"
)

const throttledURL = "https://rr1---sn-4g5e6nez.googlevideo.com/videoplayback?itag=140&clen=1000000&mime=audio%2Fmp4"

// fakeCDN serves data with byte-range support and records every Range header.
type fakeCDN struct {
	data []byte

	mu     sync.Mutex
	ranges []string
	// respond overrides the handler for a request when it returns true.
	respond func(w http.ResponseWriter, r *http.Request, n int) bool
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func (c *fakeCDN) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.ranges = append(c.ranges, r.Header.Get("Range"))
	n := len(c.ranges)
	respond := c.respond
	c.mu.Unlock()

	if respond != nil && respond(w, r, n) {
		return
	}
	w.Header().Set("Content-Type", "audio/mp4")
	rng := r.Header.Get("Range")
	if rng == "" {
		w.Header().Set("Content-Length", strconv.Itoa(len(c.data)))
		_, _ = w.Write(c.data)
		return
	}
	start, end, err := parseRange(rng)
	if err != nil || start >= int64(len(c.data)) {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if end >= int64(len(c.data)) {
		end = int64(len(c.data)) - 1
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(c.data)))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(c.data[start : end+1])
}

func (c *fakeCDN) Ranges() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ranges...)
}

func parseRange(h string) (int64, int64, error) {
	spec, ok := strings.CutPrefix(h, "bytes=")
	if !ok {
		return 0, 0, errors.New("bad range unit")
	}
	from, to, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, errors.New("bad range")
	}
	start, err := strconv.ParseInt(from, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	end, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// refuseFullRange rejects the initial single-range request with status.
func refuseFullRange(status int, fullRange string) func(http.ResponseWriter, *http.Request, int) bool {
	return func(w http.ResponseWriter, r *http.Request, _ int) bool {
		if r.Header.Get("Range") == fullRange {
			w.WriteHeader(status)
			return true
		}
		return false
	}
}

// newTestFetcher routes every outbound host to srv, so locators can use real CDN hostnames.
func newTestFetcher(t testing.TB, srv *httptest.Server, cfg Config) (*Fetcher, *http.Transport) {
	t.Helper()
	addr := srv.Listener.Addr().String()
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
		DisableCompression: true,
	}
	client := upstream.NewClient("media", upstream.Options{
		HTTPClient:     &http.Client{Transport: rewriteScheme{transport}},
		RateLimit:      10000,
		RateLimitBurst: 10000,
	})
	if cfg.AllowedSuffixes == nil {
		cfg.AllowedSuffixes = []string{"googlevideo.com", "cdn.example.com"}
	}
	if cfg.ChunkRetry.MaxRetries == 0 {
		cfg.ChunkRetry = resilience.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}
	}
	f, err := New(client, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return f, transport
}

// rewriteScheme sends https locators over plain http to the test server.
type rewriteScheme struct{ base http.RoundTripper }

func (r rewriteScheme) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = "http"
	return r.base.RoundTrip(out)
}

// recordingSink captures what a streaming consumer observes.
type recordingSink struct {
	mu       sync.Mutex
	starts   int
	meta     Metadata
	data     []byte
	writes   int
	failAt   int // Write number that fails; 0 never
	block    chan struct{}
	inWrite  chan struct{}
	startErr error
}

func (s *recordingSink) Start(m Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) > 0 {
		panic("Start after Write")
	}
	s.starts++
	s.meta = m
	return s.startErr
}

func (s *recordingSink) Write(p []byte) (int, error) {
	if s.inWrite != nil {
		s.inWrite <- struct{}{}
	}
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failAt > 0 && s.writes >= s.failAt {
		return 0, errors.New("client went away")
	}
	s.data = append(s.data, p...)
	return len(p), nil
}
