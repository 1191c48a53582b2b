// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ManuGH/tunegate/internal/log"
	"github.com/ManuGH/tunegate/internal/resolver"
)

type streamsResponse struct {
	AudioStreams []resolver.StreamCandidate `json:"audioStreams"`
	Source       string                     `json:"source"`
}

type streamsErrorResponse struct {
	Error        string                     `json:"error"`
	AudioStreams []resolver.StreamCandidate `json:"audioStreams"`
}

// handleStreams serves GET /streams?videoId=<id>.
func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	videoID := strings.TrimSpace(r.URL.Query().Get("videoId"))
	if videoID == "" {
		writeError(w, http.StatusBadRequest, "missing videoId")
		return
	}
	ctx := r.Context()
	logger := log.WithComponentFromContext(ctx, "api.streams")

	res, err := s.Pipeline().Resolver.Resolve(ctx, videoID)
	if err != nil {
		if errors.Is(err, resolver.ErrInvalidVideoID) {
			writeError(w, http.StatusBadRequest, "invalid videoId")
			return
		}
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "streams.unavailable").
			Str(log.FieldVideoID, videoID).
			Msg("no audio streams resolved")
		w.Header().Set("Cache-Control", cacheNone)
		writeJSON(w, http.StatusServiceUnavailable, streamsErrorResponse{
			Error:        "no audio streams available",
			AudioStreams: []resolver.StreamCandidate{},
		})
		return
	}

	candidates := res.Candidates
	if candidates == nil {
		candidates = []resolver.StreamCandidate{}
	}
	w.Header().Set("Cache-Control", cacheStreams)
	writeJSON(w, http.StatusOK, streamsResponse{AudioStreams: candidates, Source: res.Source})
}
