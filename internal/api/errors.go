// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"net/http"
)

const (
	cacheStreams = "public, max-age=0, s-maxage=300, stale-while-revalidate=600"
	cacheAudio   = "public, max-age=3600, stale-while-revalidate=86400"
	cacheNone    = "no-store"
)

// errorResponse is the only error shape that crosses the boundary.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a short, non-cacheable error message.
func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Cache-Control", cacheNone)
	writeJSON(w, code, errorResponse{Error: msg})
}
