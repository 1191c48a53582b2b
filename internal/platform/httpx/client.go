// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package httpx

import (
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultClientTimeout         = 5 * time.Second
	defaultDialTimeout           = 3 * time.Second
	defaultResponseHeaderTimeout = 3 * time.Second
	defaultStreamHeaderTimeout   = 15 * time.Second
	defaultIdleConnTimeout       = 30 * time.Second
	defaultExpectContinueTimeout = 1 * time.Second
	defaultMaxIdleConns          = 16
	defaultMaxIdleConnsPerHost   = 4
)

// Option customizes a client built by NewClient or NewStreamingClient.
type Option func(*options)

type options struct {
	tracing bool
}

// WithTracing wraps the transport with otelhttp so outbound requests carry spans
// and propagate trace context.
func WithTracing() Option {
	return func(o *options) { o.tracing = true }
}

// NewClient returns a hardened HTTP client for metadata requests.
func NewClient(timeout time.Duration, opts ...Option) *http.Client {
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}

	dialTimeout := timeout
	if dialTimeout > defaultDialTimeout {
		dialTimeout = defaultDialTimeout
	}

	responseHeaderTimeout := timeout
	if responseHeaderTimeout > defaultResponseHeaderTimeout {
		responseHeaderTimeout = defaultResponseHeaderTimeout
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: wrap(newTransport(dialTimeout, responseHeaderTimeout), opts),
	}
}

// NewStreamingClient returns a client for long-lived media bodies. It has no
// overall timeout; callers bound the transfer with a context deadline and
// only the wait for response headers is capped here.
func NewStreamingClient(headerTimeout time.Duration, opts ...Option) *http.Client {
	if headerTimeout <= 0 {
		headerTimeout = defaultStreamHeaderTimeout
	}
	return &http.Client{
		Transport: wrap(newTransport(defaultDialTimeout, headerTimeout), opts),
	}
}

func newTransport(dialTimeout, responseHeaderTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   dialTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,
		ExpectContinueTimeout: defaultExpectContinueTimeout,
		// Media bodies are already compressed; byte counts must stay exact for range math.
		DisableCompression: true,
	}
}

func wrap(base *http.Transport, opts []Option) http.RoundTripper {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracing {
		return otelhttp.NewTransport(base)
	}
	return base
}
