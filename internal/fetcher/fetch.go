// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/ManuGH/tunegate/internal/log"
	"github.com/ManuGH/tunegate/internal/metrics"
	"github.com/ManuGH/tunegate/internal/resilience"
	"github.com/ManuGH/tunegate/internal/resolver"
	"github.com/ManuGH/tunegate/internal/telemetry"
	"github.com/ManuGH/tunegate/internal/upstream"
)

type delivery string

const (
	deliveryBounded delivery = "bounded"
	deliveryStream  delivery = "stream"

	copyBufferSize = 32 << 10
)

// Fetch retrieves rawURL into memory within the bounded budget.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	u, err := f.Authorize(rawURL)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, f.cfg.BoundedTimeout)
	defer cancel()

	sink := &bufferSink{max: f.cfg.MaxBoundedBytes}
	sess, err := f.run(ctx, u, sink, deliveryBounded)
	if err != nil {
		return nil, err
	}
	return &Result{Session: sess, ContentType: sink.meta.ContentType, Data: sink.buf.Bytes()}, nil
}

// Stream forwards rawURL to sink as bytes arrive, within the streaming budget.
// A returned error wraps ErrStreamAborted when the sink had already started;
// the session is returned whenever the locator passed authorization.
func (f *Fetcher) Stream(ctx context.Context, rawURL string, sink Sink) (*Session, error) {
	u, err := f.Authorize(rawURL)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, f.cfg.StreamTimeout)
	defer cancel()
	return f.run(ctx, u, sink, deliveryStream)
}

func (f *Fetcher) run(ctx context.Context, u *url.URL, sink Sink, d delivery) (*Session, error) {
	sess := &Session{
		ID:          uuid.NewString(),
		UpstreamURL: u.String(),
		Throttled:   f.isThrottled(u),
	}
	ctx = log.ContextWithSessionID(ctx, sess.ID)
	logger := log.WithComponentFromContext(ctx, "fetcher")
	ctx, span := telemetry.Tracer("tunegate.fetcher").Start(ctx, "tunegate.fetcher."+string(d))
	defer span.End()

	start := time.Now()
	out := &output{sess: sess, sink: sink, meta: Metadata{ContentLength: -1}}
	var err error
	if sess.Throttled {
		sess.TargetSize = f.targetSize(u, d)
		err = f.fetchThrottled(ctx, u, out)
	} else {
		err = f.fetchDirect(ctx, u, out, d)
	}

	span.SetAttributes(telemetry.FetchAttributes(string(sess.Mode), sess.Throttled, sess.TargetSize, sess.Transferred)...)
	metrics.AddFetchBytes(string(sess.Mode), sess.Transferred)
	metrics.IncFetch(string(d), string(sess.Mode), err == nil)

	if err != nil {
		if d == deliveryStream && sess.committed && !errors.Is(err, ErrStreamAborted) {
			err = fmt.Errorf("%w: %w", ErrStreamAborted, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, upstream.KindLabel(err))
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "fetch.failed").
			Str(log.FieldHost, u.Hostname()).
			Str(log.FieldMode, string(sess.Mode)).
			Int64(log.FieldBytes, sess.Transferred).
			Bool("committed", sess.committed).
			Msg("media fetch failed")
		return sess, err
	}

	span.SetStatus(codes.Ok, "")
	logger.Info().
		Str(log.FieldEvent, "fetch.completed").
		Str(log.FieldHost, u.Hostname()).
		Str(log.FieldMode, string(sess.Mode)).
		Int64(log.FieldTargetBytes, sess.TargetSize).
		Int64(log.FieldBytes, sess.Transferred).
		Dur("duration", time.Since(start)).
		Msg("media fetch completed")
	return sess, nil
}

// targetSize reads the embedded size hint. Bounded mode clamps it to
// MaxBoundedBytes; streaming keeps it uncapped and falls back to the ceiling.
func (f *Fetcher) targetSize(u *url.URL, d delivery) int64 {
	hint := resolver.SizeHint(u.String())
	if d == deliveryBounded {
		if hint <= 0 || hint > f.cfg.MaxBoundedBytes {
			return f.cfg.MaxBoundedBytes
		}
		return hint
	}
	if hint > 0 {
		return hint
	}
	return f.cfg.StreamCeilingBytes
}

func (f *Fetcher) throttledHeader() http.Header {
	h := f.cfg.ThrottledHeader.Clone()
	if h == nil {
		h = http.Header{}
	}
	return h
}

func (f *Fetcher) fetchThrottled(ctx context.Context, u *url.URL, out *output) error {
	var singleErr error
	_, err := resilience.WithFallbackContext(ctx,
		func(ctx context.Context) (struct{}, error) {
			err := f.singleRange(ctx, u, out)
			singleErr = err
			if err != nil {
				logger := log.WithComponentFromContext(ctx, "fetcher")
				logger.Debug().
					Err(err).
					Str(log.FieldEvent, "fetch.single_range_failed").
					Int64(log.FieldBytes, out.sess.Transferred).
					Msg("single range request not usable, switching to chunked retrieval")
			}
			return struct{}{}, err
		},
		func(ctx context.Context) (struct{}, error) {
			// A refused redirect would be refused again for every chunk.
			if errors.Is(singleErr, upstream.ErrUnauthorized) {
				return struct{}{}, singleErr
			}
			return struct{}{}, f.chunked(ctx, u, out)
		},
	)
	return err
}

// singleRange asks for the whole target in one request. Any failure, including
// a body that yields no bytes, hands over to chunked retrieval at the current offset.
func (f *Fetcher) singleRange(ctx context.Context, u *url.URL, out *output) error {
	sess := out.sess
	sess.Mode = ModeSingleRange
	op := "fetch single-range"

	header := f.throttledHeader()
	header.Set("Range", fmt.Sprintf("bytes=0-%d", sess.TargetSize-1))
	resp, err := f.client.Send(ctx, upstream.Request{URL: u.String(), Header: header})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		upstream.Drain(resp)
		return upstream.Rejected(op, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	out.meta = Metadata{
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: declaredLength(resp.ContentLength, sess.TargetSize),
	}
	n, err := io.CopyBuffer(out, io.LimitReader(resp.Body, sess.TargetSize), make([]byte, copyBufferSize))
	if err != nil {
		if out.werr != nil {
			return out.werr
		}
		return upstream.Transport(op, err)
	}
	if n == 0 {
		return upstream.NoUsableData(op, "empty body")
	}
	return nil
}

// chunked walks the target in ChunkSize ranges starting at the bytes already
// delivered. It stops at the target, on an empty chunk, on a short chunk
// (taken as end of upstream data) or when a chunk still fails after retries.
func (f *Fetcher) chunked(ctx context.Context, u *url.URL, out *output) error {
	if out.werr != nil {
		return out.werr
	}
	sess := out.sess
	sess.Mode = ModeChunkedRange
	if !sess.committed {
		// Total length is not known up front.
		out.meta = Metadata{ContentLength: -1}
	}
	logger := log.WithComponentFromContext(ctx, "fetcher")

	buf := make([]byte, f.cfg.ChunkSize)
	var lastErr error
	for sess.Transferred < sess.TargetSize {
		offset := sess.Transferred
		end := min(offset+f.cfg.ChunkSize, sess.TargetSize) - 1
		want := end - offset + 1

		n, err := resilience.RetryValue(ctx, f.cfg.ChunkRetry, func(ctx context.Context) (int, error) {
			return f.fetchChunk(ctx, u, out, buf[:want], offset, end)
		})
		if err != nil {
			lastErr = err
			logger.Warn().
				Err(err).
				Str(log.FieldEvent, "fetch.chunk_failed").
				Int64(log.FieldOffset, offset).
				Int64(log.FieldBytes, sess.Transferred).
				Msg("chunk request failed after retries, stopping")
			break
		}
		if n == 0 {
			break
		}
		if _, err := out.Write(buf[:n]); err != nil {
			return err
		}
		if int64(n) < want {
			break
		}
	}

	if sess.Transferred == 0 {
		if lastErr != nil {
			return fmt.Errorf("%w: %w", ErrNoData, lastErr)
		}
		return ErrNoData
	}
	if err := ctx.Err(); err != nil {
		return upstream.Cancelled("fetch chunked-range", err)
	}
	return nil
}

func (f *Fetcher) fetchChunk(ctx context.Context, u *url.URL, out *output, buf []byte, offset, end int64) (int, error) {
	metrics.IncFetchChunk()
	op := "fetch chunk"
	ctx, span := telemetry.Tracer("tunegate.fetcher").Start(ctx, "tunegate.fetcher.chunk")
	span.SetAttributes(telemetry.ChunkAttributes(offset, int64(len(buf)))...)
	defer span.End()

	header := f.throttledHeader()
	header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, end))
	resp, err := f.client.Send(ctx, upstream.Request{URL: u.String(), Header: header})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, upstream.KindLabel(err))
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusOK && offset == 0:
		// Range ignored; the head of the full body is still the right bytes.
	default:
		upstream.Drain(resp)
		err := upstream.Rejected(op, resp.StatusCode, http.StatusText(resp.StatusCode))
		span.SetStatus(codes.Error, upstream.KindLabel(err))
		return 0, err
	}
	if !out.sess.committed && out.meta.ContentType == "" {
		out.meta.ContentType = resp.Header.Get("Content-Type")
	}

	n, err := io.ReadFull(resp.Body, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}
	if err == nil && resp.ContentLength > 0 && int64(n) < min(resp.ContentLength, int64(len(buf))) {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		err = upstream.Transport(op, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, upstream.KindLabel(err))
		return 0, err
	}
	span.SetStatus(codes.Ok, "")
	return n, nil
}

func (f *Fetcher) fetchDirect(ctx context.Context, u *url.URL, out *output, d delivery) error {
	sess := out.sess
	sess.Mode = ModeDirect
	op := "fetch direct"

	resp, err := f.client.Send(ctx, upstream.Request{URL: u.String()})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		upstream.Drain(resp)
		return upstream.Rejected(op, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	limit := f.cfg.StreamCeilingBytes
	if d == deliveryBounded {
		// One byte over the cap lets the buffer sink detect oversize bodies.
		limit = f.cfg.MaxBoundedBytes + 1
	}
	out.meta = Metadata{
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: declaredLength(resp.ContentLength, limit),
	}
	n, err := io.CopyBuffer(out, io.LimitReader(resp.Body, limit), make([]byte, copyBufferSize))
	if err != nil {
		if out.werr != nil {
			return out.werr
		}
		return upstream.Transport(op, err)
	}
	if n == 0 {
		// An empty 2xx is a valid empty resource.
		return out.commit()
	}
	return nil
}

func declaredLength(upstreamLength, limit int64) int64 {
	if upstreamLength < 0 {
		return -1
	}
	if upstreamLength > limit {
		return limit
	}
	return upstreamLength
}
