// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fetcher retrieves media bytes from allow-listed upstream locators,
// either buffered (bounded mode) or forwarded as they arrive (streaming mode).
package fetcher

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ManuGH/tunegate/internal/metrics"
	platformnet "github.com/ManuGH/tunegate/internal/platform/net"
	"github.com/ManuGH/tunegate/internal/resilience"
	"github.com/ManuGH/tunegate/internal/upstream"
)

var (
	// ErrUnauthorizedHost rejects locators outside the allow-list before any network call.
	ErrUnauthorizedHost = fmt.Errorf("fetcher: %w", upstream.ErrUnauthorized)
	// ErrNoData means neither the range nor the chunked path produced a single byte.
	ErrNoData = fmt.Errorf("fetcher: no data received: %w", upstream.ErrNoUsableData)
	// ErrStreamAborted wraps failures that happened after output was committed.
	ErrStreamAborted = errors.New("fetcher: stream aborted after output began")
	// ErrTooLarge means a direct body exceeded MaxBoundedBytes in bounded mode.
	ErrTooLarge = errors.New("fetcher: body exceeds bounded limit")
)

const (
	DefaultChunkSize          = 256 << 10
	DefaultMaxBoundedBytes    = 25 << 20
	DefaultStreamCeilingBytes = 512 << 20
	DefaultBoundedTimeout     = 60 * time.Second
	DefaultStreamTimeout      = 180 * time.Second

	maxRedirects = 10
)

// DefaultThrottledSuffixes is the CDN class that throttles unidentified clients.
var DefaultThrottledSuffixes = []string{"googlevideo.com"}

// Config is the constructor configuration of a Fetcher.
type Config struct {
	AllowedSuffixes   []string
	ThrottledSuffixes []string
	// ThrottledHeader is the device identity sent to throttled-class hosts.
	ThrottledHeader    http.Header
	ChunkSize          int64
	MaxBoundedBytes    int64
	StreamCeilingBytes int64
	BoundedTimeout     time.Duration
	StreamTimeout      time.Duration
	ChunkRetry         resilience.RetryPolicy
}

func (c Config) withDefaults() Config {
	if len(c.ThrottledSuffixes) == 0 {
		c.ThrottledSuffixes = DefaultThrottledSuffixes
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.MaxBoundedBytes <= 0 {
		c.MaxBoundedBytes = DefaultMaxBoundedBytes
	}
	if c.StreamCeilingBytes <= 0 {
		c.StreamCeilingBytes = DefaultStreamCeilingBytes
	}
	if c.BoundedTimeout <= 0 {
		c.BoundedTimeout = DefaultBoundedTimeout
	}
	if c.StreamTimeout <= 0 {
		c.StreamTimeout = DefaultStreamTimeout
	}
	if c.ChunkRetry.ShouldRetry == nil {
		c.ChunkRetry.ShouldRetry = upstream.IsRetryable
	}
	return c
}

// Fetcher is safe for concurrent use; every call gets its own Session.
type Fetcher struct {
	cfg       Config
	allowed   *platformnet.SuffixAllowlist
	throttled *platformnet.SuffixAllowlist
	client    *upstream.Client
}

// New validates cfg and returns a Fetcher sending through client.
func New(client *upstream.Client, cfg Config) (*Fetcher, error) {
	if client == nil {
		return nil, errors.New("fetcher: nil upstream client")
	}
	cfg = cfg.withDefaults()
	allowed, err := platformnet.NewSuffixAllowlist(cfg.AllowedSuffixes)
	if err != nil {
		return nil, fmt.Errorf("fetcher: %w", err)
	}
	if len(allowed.Suffixes()) == 0 {
		return nil, errors.New("fetcher: allow-list is empty")
	}
	throttled, err := platformnet.NewSuffixAllowlist(cfg.ThrottledSuffixes)
	if err != nil {
		return nil, fmt.Errorf("fetcher: %w", err)
	}
	f := &Fetcher{cfg: cfg, allowed: allowed, throttled: throttled}
	f.client = client.WithRedirectPolicy(f.checkRedirect)
	return f, nil
}

// checkRedirect applies the allow-list to every hop, so an allowed host
// cannot hand the request to one that is not.
func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("fetcher: stopped after %d redirects", len(via))
	}
	if _, err := f.Authorize(req.URL.String()); err != nil {
		return fmt.Errorf("redirect to %s: %w", req.URL.Hostname(), err)
	}
	return nil
}

// AllowedSuffixes returns the normalised allow-list.
func (f *Fetcher) AllowedSuffixes() []string { return f.allowed.Suffixes() }

// Authorize parses rawURL and checks scheme and host against the allow-list.
func (f *Fetcher) Authorize(rawURL string) (*url.URL, error) {
	u, ok := platformnet.ParseDirectHTTPURL(strings.TrimSpace(rawURL))
	if !ok {
		metrics.IncFetchRejected()
		return nil, fmt.Errorf("%w: not an absolute http(s) url", ErrUnauthorizedHost)
	}
	if _, err := f.allowed.CheckURL(u.String()); err != nil {
		metrics.IncFetchRejected()
		return nil, fmt.Errorf("%w: %v", ErrUnauthorizedHost, err)
	}
	return u, nil
}

func (f *Fetcher) isThrottled(u *url.URL) bool {
	return f.throttled.AllowsHost(u.Hostname())
}
