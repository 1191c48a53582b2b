// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package net

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHost(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "RR3---SN.GoogleVideo.com.", want: "rr3---sn.googlevideo.com"},
		{in: "r1---sn-4g5e6nez.googlevideo.com", want: "r1---sn-4g5e6nez.googlevideo.com"},
		{in: "[::1]", want: "::1"},
		{in: "bücher.example", want: "xn--bcher-kva.example"},
		{in: "", wantErr: true},
		{in: "http://x.com", wantErr: true},
		{in: "x.com/path", wantErr: true},
		{in: "user@x.com", wantErr: true},
		{in: "x.com:443", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := NormalizeHost(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSuffixAllowlist_CheckURL(t *testing.T) {
	allow, err := NewSuffixAllowlist([]string{".googlevideo.com", "pipedproxy.example.org"})
	require.NoError(t, err)

	cases := []struct {
		name    string
		raw     string
		allowed bool
	}{
		{name: "throttled cdn https", raw: "https://rr4---sn-abc.googlevideo.com/videoplayback?clen=10", allowed: true},
		{name: "throttled cdn http other path", raw: "http://rr4---sn-abc.googlevideo.com/x/y/z", allowed: true},
		{name: "apex match", raw: "https://googlevideo.com/", allowed: true},
		{name: "mixed case", raw: "https://RR1.GoogleVideo.COM/a", allowed: true},
		{name: "explicit port", raw: "https://pipedproxy.example.org:8443/videoplayback", allowed: true},
		{name: "evil host", raw: "https://evil.com/videoplayback", allowed: false},
		{name: "suffix without dot boundary", raw: "https://evilgooglevideo.com/", allowed: false},
		{name: "allowlisted name in path", raw: "https://evil.com/googlevideo.com", allowed: false},
		{name: "allowlisted name as userinfo", raw: "https://googlevideo.com@evil.com/", allowed: false},
		{name: "no host", raw: "/relative/path", allowed: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := allow.CheckURL(tc.raw)
			if tc.allowed {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrOutboundNotAllowed), "unexpected error %v", err)
		})
	}
}

func TestSuffixAllowlist_NilRejectsEverything(t *testing.T) {
	var allow *SuffixAllowlist
	assert.False(t, allow.AllowsHost("googlevideo.com"))
	assert.Nil(t, allow.Suffixes())
}

func TestNewSuffixAllowlist_InvalidSuffix(t *testing.T) {
	_, err := NewSuffixAllowlist([]string{"https://bad"})
	assert.Error(t, err)
}

func TestParseDirectHTTPURL(t *testing.T) {
	_, ok := ParseDirectHTTPURL("https://rr1.googlevideo.com/videoplayback")
	assert.True(t, ok)

	for _, raw := range []string{"ftp://x.com/a", "https://u:p@x.com/", "https:///nohost", "https://x.com/#frag"} {
		_, ok := ParseDirectHTTPURL(raw)
		assert.False(t, ok, raw)
	}
}

func TestSanitizeURL_DropsQueryAndUser(t *testing.T) {
	assert.Equal(t, "https://x.com/videoplayback", SanitizeURL("https://u:p@x.com/videoplayback?sig=secret"))
}
