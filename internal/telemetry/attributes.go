// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package telemetry provides OpenTelemetry tracing utilities for tunegate.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// Resolver attributes
	ResolverVideoIDKey    = "resolver.video_id"
	ResolverSourceKey     = "resolver.source"
	ResolverCandidatesKey = "resolver.candidates"
	ResolverMirrorKey     = "resolver.mirror"

	// Fetch attributes
	FetchModeKey        = "fetch.mode"
	FetchThrottledKey   = "fetch.throttled"
	FetchTargetBytesKey = "fetch.target_bytes"
	FetchBytesKey       = "fetch.bytes"
	FetchOffsetKey      = "fetch.offset"
	FetchChunkBytesKey  = "fetch.chunk_bytes"

	// Retry attributes
	AttemptKey = "attempt"
	RetryKey   = "retry"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// ResolverAttributes describes one strategy attempt. Empty values are omitted.
func ResolverAttributes(videoID, source string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if videoID != "" {
		attrs = append(attrs, attribute.String(ResolverVideoIDKey, videoID))
	}
	if source != "" {
		attrs = append(attrs, attribute.String(ResolverSourceKey, source))
	}
	return attrs
}

// FetchAttributes describes a fetch session.
func FetchAttributes(mode string, throttled bool, targetBytes, transferred int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(FetchModeKey, mode),
		attribute.Bool(FetchThrottledKey, throttled),
		attribute.Int64(FetchTargetBytesKey, targetBytes),
		attribute.Int64(FetchBytesKey, transferred),
	}
}

// ChunkAttributes describes one ranged chunk request.
func ChunkAttributes(offset, size int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(FetchOffsetKey, offset),
		attribute.Int64(FetchChunkBytesKey, size),
	}
}

// AttemptAttributes marks a retry attempt (1-based).
func AttemptAttributes(attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttemptKey, attempt),
		attribute.Bool(RetryKey, attempt > 1),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
