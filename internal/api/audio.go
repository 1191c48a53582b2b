// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ManuGH/tunegate/internal/fetcher"
	"github.com/ManuGH/tunegate/internal/log"
	"github.com/ManuGH/tunegate/internal/upstream"
)

const defaultContentType = "application/octet-stream"

// handleAudio serves GET /audio?url=<locator>[&mode=bounded|stream].
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	raw := strings.TrimSpace(q.Get("url"))
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing url")
		return
	}
	p := s.Pipeline()
	mode := q.Get("mode")
	if mode == "" {
		mode = p.DefaultMode
	}

	switch mode {
	case DeliveryBounded:
		s.serveBounded(w, r, p.Fetcher, raw)
	case DeliveryStream:
		s.serveStream(w, r, p.Fetcher, raw)
	default:
		writeError(w, http.StatusBadRequest, "invalid mode")
	}
}

func (s *Server) serveBounded(w http.ResponseWriter, r *http.Request, f MediaFetcher, raw string) {
	res, err := f.Fetch(r.Context(), raw)
	if err != nil {
		writeFetchError(w, r, err)
		return
	}
	h := w.Header()
	h.Set("Content-Type", contentTypeOr(res.ContentType))
	h.Set("Content-Length", strconv.Itoa(len(res.Data)))
	h.Set("Cache-Control", cacheAudio)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}

func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, f MediaFetcher, raw string) {
	sink := newResponseSink(w)
	_, err := f.Stream(r.Context(), raw, sink)
	if err == nil {
		return
	}
	if sink.started {
		// The status line is gone; dropping the connection is the only
		// way left to tell the client the body is incomplete.
		logger := log.WithComponentFromContext(r.Context(), "api.audio")
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "audio.stream_aborted").
			Int64(log.FieldBytes, sink.written).
			Msg("aborting response after partial body")
		panic(http.ErrAbortHandler)
	}
	writeFetchError(w, r, err)
}

// writeFetchError maps fetch failures that happened before any byte was sent.
func writeFetchError(w http.ResponseWriter, r *http.Request, err error) {
	logger := log.WithComponentFromContext(r.Context(), "api.audio")
	if errors.Is(err, upstream.ErrUnauthorized) {
		logger.Info().
			Err(err).
			Str(log.FieldEvent, "audio.rejected").
			Msg("locator rejected by allow-list")
		writeError(w, http.StatusForbidden, "host not allowed")
		return
	}

	msg := "upstream fetch failed"
	if errors.Is(err, fetcher.ErrTooLarge) {
		msg = "media exceeds bounded limit"
	}
	logger.Warn().
		Err(err).
		Str(log.FieldEvent, "audio.failed").
		Str("kind", upstream.KindLabel(err)).
		Msg("audio fetch failed")
	writeError(w, http.StatusBadGateway, msg)
}

func contentTypeOr(ct string) string {
	if ct == "" {
		return defaultContentType
	}
	return ct
}

// responseSink forwards fetched bytes to the client, flushing after every
// write so playback can start before the download ends.
type responseSink struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
	written int64
}

func newResponseSink(w http.ResponseWriter) *responseSink {
	return &responseSink{w: w, rc: http.NewResponseController(w)}
}

func (s *responseSink) Start(m fetcher.Metadata) error {
	h := s.w.Header()
	h.Set("Content-Type", contentTypeOr(m.ContentType))
	if m.ContentLength >= 0 {
		h.Set("Content-Length", strconv.FormatInt(m.ContentLength, 10))
	}
	h.Set("Cache-Control", cacheAudio)
	s.w.WriteHeader(http.StatusOK)
	s.started = true
	return nil
}

func (s *responseSink) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	s.written += int64(n)
	if err != nil {
		return n, err
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return n, err
	}
	return n, nil
}
