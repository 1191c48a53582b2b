// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/tunegate/internal/api/middleware"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// Probes and scrapes stay outside the public stack so rate limits and
	// CORS never interfere with orchestration.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recoverer)
		r.Get("/healthz", s.health.ServeHealth)
		r.Get("/readyz", s.health.ServeReady)
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
		r.Get("/openapi.yaml", serveOpenAPI)
	})

	r.Group(func(r chi.Router) {
		middleware.ApplyStack(r, s.stack)
		r.Get("/streams", s.handleStreams)
		r.Get("/audio", s.handleAudio)
		// Preflights are answered by the CORS middleware wrapping these.
		r.Options("/streams", noContent)
		r.Options("/audio", noContent)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Allow", "GET, OPTIONS")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
