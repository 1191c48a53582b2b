// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resolver

import (
	"net/url"
	"strconv"
)

// SizeHint returns the byte length embedded in a locator's "clen" query
// parameter, or 0 when absent or unparseable.
func SizeHint(rawURL string) int64 {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(u.Query().Get("clen"), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
