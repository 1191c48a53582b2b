// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package upstream is the shared HTTP client for every provider tunegate talks to.
// It applies identity headers, rate limiting, tracing and retry, and defines the
// error taxonomy used across the resolver and the fetcher.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ManuGH/tunegate/internal/platform/httpx"
	"github.com/ManuGH/tunegate/internal/resilience"
	"github.com/ManuGH/tunegate/internal/telemetry"
)

const (
	defaultTimeout        = 10 * time.Second
	defaultRateLimit      = 10
	defaultRateLimitBurst = 20
	defaultUserAgent      = "tunegate/1.0"

	// MaxJSONBytes caps metadata bodies read by DecodeJSON.
	MaxJSONBytes = 8 << 20
)

// Options configures a Client.
type Options struct {
	// HTTPClient overrides the transport. Nil builds one with httpx.NewClient(Timeout).
	HTTPClient     *http.Client
	Timeout        time.Duration
	UserAgent      string
	Header         http.Header
	RateLimit      rate.Limit
	RateLimitBurst int
	Retry          resilience.RetryPolicy
}

// Client sends requests to one class of upstream.
type Client struct {
	name       string
	httpClient *http.Client
	limiter    *rate.Limiter
	policy     resilience.RetryPolicy
	userAgent  string
	header     http.Header
}

// Request describes one outbound call. Body is re-sent on every attempt.
type Request struct {
	Method string
	URL    string
	Body   []byte
	Header http.Header
}

// NewClient creates a client labelled name in metrics and spans.
func NewClient(name string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Limit(defaultRateLimit)
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = defaultRateLimitBurst
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Retry.ShouldRetry == nil {
		opts.Retry.ShouldRetry = IsRetryable
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = httpx.NewClient(opts.Timeout)
	}
	return &Client{
		name:       name,
		httpClient: hc,
		limiter:    rate.NewLimiter(opts.RateLimit, opts.RateLimitBurst),
		policy:     opts.Retry,
		userAgent:  opts.UserAgent,
		header:     opts.Header.Clone(),
	}
}

// RedirectPolicy vets every redirect hop before it is followed. It has the
// signature of http.Client.CheckRedirect.
type RedirectPolicy func(req *http.Request, via []*http.Request) error

// WithRedirectPolicy returns a copy of c whose HTTP client applies check to
// redirects. The rate limiter is shared with c.
func (c *Client) WithRedirectPolicy(check RedirectPolicy) *Client {
	hc := *c.httpClient
	hc.CheckRedirect = check
	cp := *c
	cp.httpClient = &hc
	return &cp
}

// Name returns the metrics/span label of the client.
func (c *Client) Name() string { return c.name }

// Header returns a copy of the identity headers sent with every request.
func (c *Client) Header() http.Header {
	h := c.header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("User-Agent", c.userAgent)
	return h
}

// Do sends req and retries transport failures, 5xx and 429 per the client's policy.
// Any other status is returned to the caller with the body open.
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, error) {
	ctx, span := telemetry.Tracer("tunegate.upstream").Start(ctx, "tunegate.upstream.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("upstream.client", c.name)),
	)
	defer span.End()

	var lastErr error
	attempt := 0
	resp, err := resilience.RetryValue(ctx, c.policy, func(ctx context.Context) (*http.Response, error) {
		attempt++
		if attempt > 1 {
			recordRetry(c.name, lastErr)
		}
		resp, err := c.send(ctx, req, attempt)
		if err != nil {
			lastErr = err
			return nil, err
		}
		if retryableStatus(resp.StatusCode) {
			Drain(resp)
			lastErr = Rejected(c.op(req), resp.StatusCode, http.StatusText(resp.StatusCode))
			return nil, lastErr
		}
		return resp, nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ErrCancelled) {
			err = Cancelled(c.op(req), err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, KindLabel(err))
		return nil, err
	}
	span.SetAttributes(attribute.Int(telemetry.HTTPStatusCodeKey, resp.StatusCode))
	span.SetStatus(codes.Ok, "")
	return resp, nil
}

// Send performs exactly one attempt. The response is returned for every status.
func (c *Client) Send(ctx context.Context, req Request) (*http.Response, error) {
	return c.send(ctx, req, 1)
}

func (c *Client) send(ctx context.Context, req Request, attempt int) (*http.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	route, urlLabel := traceLabels(req.URL)
	ctx, span := telemetry.Tracer("tunegate.upstream").Start(ctx, "tunegate.upstream.request.attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.AttemptAttributes(attempt)...),
	)
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		err = Cancelled(c.op(req), err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		err = fmt.Errorf("%s: build request: %w", c.op(req), err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	c.applyHeaders(httpReq, req.Header)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	duration := time.Since(start)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	recordAttemptMetrics(c.name, method, status, duration, err)
	span.SetAttributes(telemetry.HTTPAttributes(method, route, urlLabel, status)...)

	if err != nil {
		err = Transport(c.op(req), err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if status >= http.StatusBadRequest {
		span.SetStatus(codes.Error, http.StatusText(status))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return resp, nil
}

func (c *Client) applyHeaders(req *http.Request, extra http.Header) {
	req.Header.Set("User-Agent", c.userAgent)
	for k, vs := range c.header {
		req.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range extra {
		req.Header[k] = append([]string(nil), vs...)
	}
}

func (c *Client) op(req Request) string {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return c.name + " " + method
}

// IsRetryable reports whether err is a transport failure, a 5xx or a 429.
// Cancellation and every other status are final.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrCancelled) {
		return false
	}
	var ue *Error
	if !errors.As(err, &ue) {
		return false
	}
	if ue.Status == 0 {
		return errors.Is(ue.Kind, ErrUpstreamRejected) && ue.Err != nil
	}
	return retryableStatus(ue.Status)
}

func retryableStatus(status int) bool {
	return status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
}

// DecodeJSON reads at most MaxJSONBytes from resp and decodes them into v.
// The body is closed.
func DecodeJSON(op string, resp *http.Response, v any) error {
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(io.LimitReader(resp.Body, MaxJSONBytes)).Decode(v); err != nil {
		return Malformed(op, err)
	}
	return nil
}

// Drain discards the rest of resp.Body so the connection can be reused.
func Drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func traceLabels(rawURL string) (string, string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown", "unknown"
	}
	route := u.Path
	if route == "" {
		route = "/"
	}
	urlLabel := u.Host + route
	if u.RawQuery != "" {
		urlLabel += "?"
	}
	return route, urlLabel
}
