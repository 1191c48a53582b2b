// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ManuGH/tunegate/internal/upstream"
)

// DefaultInnertubeBase is the canonical provider origin.
const DefaultInnertubeBase = "https://www.youtube.com"

// ClientProfile is the trusted device identity the primary strategy emulates.
// The fetcher reuses its headers for throttled-class hosts.
type ClientProfile struct {
	ClientName    string `yaml:"clientName" json:"clientName"`
	ClientNameID  string `yaml:"clientNameId" json:"clientNameId"`
	ClientVersion string `yaml:"clientVersion" json:"clientVersion"`
	UserAgent     string `yaml:"userAgent" json:"userAgent"`
	DeviceModel   string `yaml:"deviceModel" json:"deviceModel"`
	OSName        string `yaml:"osName" json:"osName"`
	OSVersion     string `yaml:"osVersion" json:"osVersion"`
	HL            string `yaml:"hl" json:"hl"`
	GL            string `yaml:"gl" json:"gl"`
}

// DefaultClientProfile emulates the iOS application.
func DefaultClientProfile() ClientProfile {
	return ClientProfile{
		ClientName:    "IOS",
		ClientNameID:  "5",
		ClientVersion: "19.45.4",
		UserAgent:     "com.google.ios.youtube/19.45.4 (iPhone16,2; U; CPU iOS 18_1_0 like Mac OS X;)",
		DeviceModel:   "iPhone16,2",
		OSName:        "iPhone",
		OSVersion:     "18.1.0.22B83",
		HL:            "en",
		GL:            "US",
	}
}

// Header returns the device identity headers, User-Agent included.
func (p ClientProfile) Header() http.Header {
	h := http.Header{}
	if p.UserAgent != "" {
		h.Set("User-Agent", p.UserAgent)
	}
	if p.ClientNameID != "" {
		h.Set("X-YouTube-Client-Name", p.ClientNameID)
	}
	if p.ClientVersion != "" {
		h.Set("X-YouTube-Client-Version", p.ClientVersion)
	}
	return h
}

type playerRequest struct {
	VideoID        string        `json:"videoId"`
	ContentCheckOK bool          `json:"contentCheckOk"`
	RacyCheckOK    bool          `json:"racyCheckOk"`
	Context        playerContext `json:"context"`
}

type playerContext struct {
	Client playerClient `json:"client"`
}

type playerClient struct {
	ClientName    string `json:"clientName"`
	ClientVersion string `json:"clientVersion"`
	DeviceModel   string `json:"deviceModel,omitempty"`
	OSName        string `json:"osName,omitempty"`
	OSVersion     string `json:"osVersion,omitempty"`
	HL            string `json:"hl,omitempty"`
	GL            string `json:"gl,omitempty"`
}

type playerResponse struct {
	PlayabilityStatus *struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	StreamingData *struct {
		AdaptiveFormats []struct {
			URL           string `json:"url"`
			MimeType      string `json:"mimeType"`
			Bitrate       int    `json:"bitrate"`
			AudioQuality  string `json:"audioQuality"`
			ContentLength string `json:"contentLength"`
		} `json:"adaptiveFormats"`
	} `json:"streamingData"`
}

// InnertubeStrategy queries the provider's player endpoint while posing as a
// trusted client.
type InnertubeStrategy struct {
	name    string
	base    string
	profile ClientProfile
	client  *upstream.Client
}

// NewInnertubeStrategy returns the primary strategy. An empty base uses DefaultInnertubeBase.
func NewInnertubeStrategy(client *upstream.Client, base string, profile ClientProfile) *InnertubeStrategy {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = DefaultInnertubeBase
	}
	return &InnertubeStrategy{name: SourcePrimary, base: base, profile: profile, client: client}
}

func (s *InnertubeStrategy) Name() string { return s.name }

func (s *InnertubeStrategy) Resolve(ctx context.Context, videoID string) ([]StreamCandidate, error) {
	body, err := json.Marshal(playerRequest{
		VideoID:        videoID,
		ContentCheckOK: true,
		RacyCheckOK:    true,
		Context: playerContext{Client: playerClient{
			ClientName:    s.profile.ClientName,
			ClientVersion: s.profile.ClientVersion,
			DeviceModel:   s.profile.DeviceModel,
			OSName:        s.profile.OSName,
			OSVersion:     s.profile.OSVersion,
			HL:            s.profile.HL,
			GL:            s.profile.GL,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: encode player request: %w", s.name, err)
	}

	header := s.profile.Header()
	header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(ctx, upstream.Request{
		Method: http.MethodPost,
		URL:    s.base + "/youtubei/v1/player?prettyPrint=false",
		Body:   body,
		Header: header,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		upstream.Drain(resp)
		return nil, upstream.Rejected(s.name, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var pr playerResponse
	if err := upstream.DecodeJSON(s.name, resp, &pr); err != nil {
		return nil, err
	}
	if pr.PlayabilityStatus == nil {
		return nil, upstream.Malformed(s.name, fmt.Errorf("missing playabilityStatus"))
	}
	if pr.PlayabilityStatus.Status != "OK" {
		reason := pr.PlayabilityStatus.Reason
		if reason == "" {
			reason = pr.PlayabilityStatus.Status
		}
		return nil, upstream.Rejected(s.name, 0, reason)
	}
	if pr.StreamingData == nil {
		return nil, upstream.NoUsableData(s.name, "no streamingData")
	}

	var out []StreamCandidate
	for _, f := range pr.StreamingData.AdaptiveFormats {
		if f.URL == "" || !isAudioMime(f.MimeType) {
			continue
		}
		size, _ := strconv.ParseInt(f.ContentLength, 10, 64)
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
		return nil, upstream.NoUsableData(s.name, "no audio formats with a url")
	}
	return out, nil
}
