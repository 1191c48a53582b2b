// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package upstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/tunegate/internal/resilience"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrUpstreamRejected  = errors.New("upstream: request rejected")
	ErrMalformedResponse = errors.New("upstream: malformed response")
	ErrNoUsableData      = errors.New("upstream: no usable data")
	ErrUnauthorized      = errors.New("upstream: host not allowed")
	ErrCancelled         = errors.New("upstream: cancelled")
)

// Error wraps a sentinel with the operation and upstream details.
type Error struct {
	Kind   error
	Op     string
	Status int
	Reason string
	Err    error // lower-level cause, e.g. a net.Error or json.SyntaxError
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Rejected reports a non-success HTTP status or a provider-side refusal.
func Rejected(op string, status int, reason string) error {
	return &Error{Kind: ErrUpstreamRejected, Op: op, Status: status, Reason: reason}
}

// Malformed reports a body that could not be decoded or lacks required structure.
func Malformed(op string, err error) error {
	return &Error{Kind: ErrMalformedResponse, Op: op, Err: err}
}

// NoUsableData reports a well-formed answer that carried nothing usable.
func NoUsableData(op, reason string) error {
	return &Error{Kind: ErrNoUsableData, Op: op, Reason: reason}
}

// Cancelled wraps a context error so callers can match both ErrCancelled and the cause.
func Cancelled(op string, err error) error {
	return &Error{Kind: ErrCancelled, Op: op, Err: err}
}

// Unauthorized reports a request refused locally because its host is not allowed.
func Unauthorized(op, reason string, err error) error {
	return &Error{Kind: ErrUnauthorized, Op: op, Reason: reason, Err: err}
}

// Transport wraps a failure below HTTP (dial, TLS, reset). Context errors become
// ErrCancelled and refused redirects stay ErrUnauthorized.
func Transport(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled(op, err)
	}
	if errors.Is(err, ErrUnauthorized) {
		return Unauthorized(op, "redirect refused", err)
	}
	return &Error{Kind: ErrUpstreamRejected, Op: op, Reason: "transport failure", Err: err}
}

// IsItemRejection reports a provider that answered normally but refused this
// particular item (age gate, login required, removed video). The provider
// itself is healthy.
func IsItemRejection(err error) bool {
	var ue *Error
	if !errors.As(err, &ue) {
		return false
	}
	return errors.Is(ue.Kind, ErrUpstreamRejected) && ue.Status == 0 && ue.Err == nil
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Status
	}
	return 0
}

// KindLabel maps err to a short, bounded label for metrics, spans and logs.
func KindLabel(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "breaker_open"
	case errors.Is(err, ErrCancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrNoUsableData):
		return "no_usable_data"
	case errors.Is(err, ErrUpstreamRejected):
		return "upstream_rejected"
	default:
		return "unknown"
	}
}
