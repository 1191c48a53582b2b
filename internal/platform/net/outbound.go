// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package net

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

var (
	// ErrOutboundNotAllowed indicates the URL did not match the allowlist.
	ErrOutboundNotAllowed = errors.New("outbound url not allowed")
)

// NormalizeHost validates and normalizes a host for comparison.
func NormalizeHost(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if strings.Contains(host, "://") {
		return "", fmt.Errorf("host must not include scheme: %s", raw)
	}
	if strings.Contains(host, "/") {
		return "", fmt.Errorf("host must not include path: %s", raw)
	}
	if strings.Contains(host, "@") {
		return "", fmt.Errorf("host must not include userinfo: %s", raw)
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}
	if strings.Contains(host, ":") && net.ParseIP(host) == nil {
		return "", fmt.Errorf("host must not include port: %s", raw)
	}
	if strings.Contains(host, "%") {
		return "", fmt.Errorf("host must not include zone: %s", raw)
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if ip := net.ParseIP(host); ip != nil {
		return strings.ToLower(ip.String()), nil
	}
	// CDN hostnames such as "r1---sn-x.googlevideo.com" break IDNA hyphen
	// rules, so plain ASCII names skip the IDNA round trip.
	if isASCII(host) {
		return strings.ToLower(host), nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", raw, err)
	}
	return strings.ToLower(ascii), nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// SuffixAllowlist matches hostnames against a fixed set of domain suffixes.
// A host matches a suffix when it equals it or ends with "."+suffix, so
// "rr1.googlevideo.com" matches "googlevideo.com" but "evilgooglevideo.com" does not.
type SuffixAllowlist struct {
	suffixes []string
}

// NewSuffixAllowlist normalises the configured suffixes. A leading dot is optional.
func NewSuffixAllowlist(suffixes []string) (*SuffixAllowlist, error) {
	out := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		s = strings.TrimPrefix(strings.TrimSpace(s), ".")
		if s == "" {
			continue
		}
		normalized, err := NormalizeHost(s)
		if err != nil {
			return nil, fmt.Errorf("allowlist suffix %q: %w", s, err)
		}
		out = append(out, normalized)
	}
	return &SuffixAllowlist{suffixes: out}, nil
}

// Suffixes returns the normalised suffix list.
func (a *SuffixAllowlist) Suffixes() []string {
	if a == nil {
		return nil
	}
	return append([]string(nil), a.suffixes...)
}

// AllowsHost reports whether host belongs to one of the suffixes.
func (a *SuffixAllowlist) AllowsHost(host string) bool {
	if a == nil {
		return false
	}
	normalized, err := NormalizeHost(host)
	if err != nil {
		return false
	}
	for _, s := range a.suffixes {
		if normalized == s || strings.HasSuffix(normalized, "."+s) {
			return true
		}
	}
	return false
}

// CheckURL verifies the hostname of raw against the allowlist, regardless of
// scheme or path, and returns the parsed URL.
func (a *SuffixAllowlist) CheckURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrOutboundNotAllowed)
	}
	if !a.AllowsHost(host) {
		return nil, fmt.Errorf("%w: host %q", ErrOutboundNotAllowed, host)
	}
	return u, nil
}
