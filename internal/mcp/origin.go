// ABOUTME: Origin header policy that blocks DNS-rebinding from browsers.
// ABOUTME: Loopback origins always pass; others need an allow-list entry.

package mcp

import (
	"net/http"
	"strings"
)

var loopbackOriginPrefixes = []string{
	"http://localhost",
	"https://localhost",
	"http://127.0.0.1",
	"https://127.0.0.1",
}

// RequestOriginAllowed applies the origin policy to request headers. Only a
// missing Origin header marks a non-browser client; a present but empty value
// is checked like any other origin.
func RequestOriginAllowed(h http.Header, allowed []string) bool {
	values := h.Values("Origin")
	if len(values) == 0 {
		return true
	}
	return OriginAllowed(values[0], allowed)
}

// OriginAllowed reports whether an Origin header value may proceed.
func OriginAllowed(origin string, allowed []string) bool {
	for _, prefix := range loopbackOriginPrefixes {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	for _, entry := range allowed {
		if entry == "*" || entry == origin {
			return true
		}
	}
	return false
}
