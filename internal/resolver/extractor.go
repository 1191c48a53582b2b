// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resolver

import (
	"context"
	"errors"
	"net/http"

	"github.com/kkdai/youtube/v2"

	"github.com/ManuGH/tunegate/internal/log"
	"github.com/ManuGH/tunegate/internal/upstream"
)

// ExtractedFormat is one rendition as reported by an Extractor.
type ExtractedFormat struct {
	URL           string
	MimeType      string
	Bitrate       int
	AudioQuality  string
	ContentLength int64
}

// Extractor derives renditions for a video independently of the primary strategy.
type Extractor interface {
	Extract(ctx context.Context, videoID string) ([]ExtractedFormat, error)
}

// ExtractorStrategy adapts an Extractor into the resolution chain.
type ExtractorStrategy struct {
	name      string
	extractor Extractor
}

// NewExtractorStrategy returns the secondary strategy.
func NewExtractorStrategy(extractor Extractor) *ExtractorStrategy {
	return &ExtractorStrategy{name: SourceSecondary, extractor: extractor}
}

func (s *ExtractorStrategy) Name() string { return s.name }

func (s *ExtractorStrategy) Resolve(ctx context.Context, videoID string) ([]StreamCandidate, error) {
	formats, err := s.extractor.Extract(ctx, videoID)
	if err != nil {
		return nil, err
	}
	var out []StreamCandidate
	for _, f := range formats {
		if f.URL == "" || !isAudioMime(f.MimeType) {
			continue
		}
		size := f.ContentLength
		if size <= 0 {
			size = SizeHint(f.URL)
		}
		out = append(out, StreamCandidate{
			URL:           f.URL,
			MimeType:      f.MimeType,
			Bitrate:       f.Bitrate,
			Quality:       normalizeQuality(f.AudioQuality),
			ContentLength: size,
		})
	}
	if len(out) == 0 {
		return nil, upstream.NoUsableData(s.name, "extractor returned no audio formats")
	}
	return out, nil
}

// LibraryExtractor extracts formats with github.com/kkdai/youtube/v2, which
// also deciphers signature-protected locators.
type LibraryExtractor struct {
	client *youtube.Client
}

// NewLibraryExtractor uses hc for all extraction traffic.
func NewLibraryExtractor(hc *http.Client) *LibraryExtractor {
	return &LibraryExtractor{client: &youtube.Client{HTTPClient: hc}}
}

func (e *LibraryExtractor) Extract(ctx context.Context, videoID string) ([]ExtractedFormat, error) {
	video, err := e.client.GetVideoContext(ctx, videoID)
	if err != nil {
		return nil, classifyExtractError(ctx, err)
	}

	logger := log.WithComponentFromContext(ctx, "resolver")
	out := make([]ExtractedFormat, 0, len(video.Formats))
	for i := range video.Formats {
		f := &video.Formats[i]
		if !isAudioMime(f.MimeType) {
			continue
		}
		locator := f.URL
		if locator == "" {
			locator, err = e.client.GetStreamURLContext(ctx, video, f)
			if err != nil {
				logger.Debug().Err(err).Int("itag", f.ItagNo).Msg("skipping format: locator decipher failed")
				continue
			}
		}
		out = append(out, ExtractedFormat{
			URL:           locator,
			MimeType:      f.MimeType,
			Bitrate:       f.Bitrate,
			AudioQuality:  f.AudioQuality,
			ContentLength: f.ContentLength,
		})
	}
	return out, nil
}

func classifyExtractError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return upstream.Cancelled(SourceSecondary, err)
	}
	var status youtube.ErrPlayabiltyStatus
	if errors.As(err, &status) {
		return upstream.Rejected(SourceSecondary, 0, status.Reason)
	}
	var unexpected youtube.ErrUnexpectedStatusCode
	if errors.As(err, &unexpected) {
		return upstream.Rejected(SourceSecondary, int(unexpected), "")
	}
	return &upstream.Error{Kind: upstream.ErrUpstreamRejected, Op: SourceSecondary, Reason: "extraction failed", Err: err}
}
