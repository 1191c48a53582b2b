// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resolver turns a video identifier into playable audio stream candidates
// by walking an ordered list of upstream strategies until one succeeds.
package resolver

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	// ErrInvalidVideoID is returned before any upstream call for malformed identifiers.
	ErrInvalidVideoID = errors.New("resolver: invalid video id")
	// ErrAllSourcesUnavailable means every strategy failed for this call.
	ErrAllSourcesUnavailable = errors.New("resolver: all sources unavailable")
)

// Default source names, reported in Resolution.Source and metrics.
const (
	SourcePrimary    = "primary"
	SourceSecondary  = "secondary"
	SourceMirrorPool = "mirror-pool"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ValidateVideoID checks the canonical 11 character identifier shape.
func ValidateVideoID(id string) error {
	if !videoIDPattern.MatchString(id) {
		return ErrInvalidVideoID
	}
	return nil
}

// StreamCandidate is one playable audio rendition.
type StreamCandidate struct {
	URL           string `json:"url"`
	MimeType      string `json:"mimeType"`
	Bitrate       int    `json:"bitrate"`
	Quality       string `json:"quality"`
	ContentLength int64  `json:"contentLength"`
}

// Strategy is one upstream source in the resolution chain.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, videoID string) ([]StreamCandidate, error)
}

// Outcome records one strategy attempt.
type Outcome struct {
	Source     string            `json:"source"`
	Candidates []StreamCandidate `json:"candidates,omitempty"`
	Succeeded  bool              `json:"succeeded"`
	Err        error             `json:"-"`
}

// FailureReason is the error text for failed attempts and "" otherwise.
func (o Outcome) FailureReason() string {
	if o.Succeeded || o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Resolution is the result of one Resolve call. On exhaustion Source is empty
// and Candidates is an empty, non-nil slice.
type Resolution struct {
	VideoID    string            `json:"videoId"`
	Source     string            `json:"source"`
	Candidates []StreamCandidate `json:"audioStreams"`
	Outcomes   []Outcome         `json:"-"`
}

func (r *Resolution) clone() *Resolution {
	if r == nil {
		return nil
	}
	out := *r
	out.Candidates = append([]StreamCandidate{}, r.Candidates...)
	out.Outcomes = make([]Outcome, len(r.Outcomes))
	for i, o := range r.Outcomes {
		o.Candidates = append([]StreamCandidate(nil), o.Candidates...)
		out.Outcomes[i] = o
	}
	return &out
}

var lowerCaser = cases.Lower(language.Und)

// normalizeQuality turns provider labels such as "AUDIO_QUALITY_MEDIUM" or
// "128 KBPS" into "medium" and "128 kbps".
func normalizeQuality(label string) string {
	label = strings.TrimSpace(label)
	label = strings.TrimPrefix(label, "AUDIO_QUALITY_")
	label = strings.ReplaceAll(label, "_", " ")
	return lowerCaser.String(label)
}

func isAudioMime(mime string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mime)), "audio/")
}
