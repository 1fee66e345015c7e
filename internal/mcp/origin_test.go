// ABOUTME: Tests for the Origin header policy.
// ABOUTME: Loopback origins, allow-list entries and the wildcard.

package mcp

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		allowed []string
		want    bool
	}{
		{"empty origin", "", nil, false},
		{"empty origin with wildcard", "", []string{"*"}, true},
		{"localhost http", "http://localhost:3000", nil, true},
		{"localhost https", "https://localhost", nil, true},
		{"loopback ip", "http://127.0.0.1:8080", nil, true},
		{"loopback ip https", "https://127.0.0.1", nil, true},
		{"blocked", "https://evil.com", nil, false},
		{"listed", "https://a.com", []string{"https://a.com"}, true},
		{"not listed", "https://b.com", []string{"https://a.com"}, false},
		{"wildcard", "https://anything.example", []string{"*"}, true},
		{"listed must match exactly", "https://a.com:8443", []string{"https://a.com"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OriginAllowed(tt.origin, tt.allowed))
		})
	}
}

func TestRequestOriginAllowed(t *testing.T) {
	assert.True(t, RequestOriginAllowed(http.Header{}, nil), "missing header")

	h := http.Header{}
	h.Set("Origin", "")
	assert.False(t, RequestOriginAllowed(h, nil), "present but empty")
	assert.False(t, RequestOriginAllowed(h, []string{"https://a.com"}), "present but empty, not listed")

	h.Set("Origin", "http://localhost:3000")
	assert.True(t, RequestOriginAllowed(h, nil))
}

func TestOriginAllowed_LoopbackIgnoresAllowList(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prefix := rapid.SampledFrom(loopbackOriginPrefixes).Draw(t, "prefix")
		suffix := rapid.StringMatching(`(:[0-9]{1,5})?(/[a-z]{0,5})?`).Draw(t, "suffix")
		allowed := rapid.SliceOf(rapid.StringMatching(`https://[a-z]{1,6}\.com`)).Draw(t, "allowed")

		if !OriginAllowed(prefix+suffix, allowed) {
			t.Fatalf("loopback origin %q rejected", prefix+suffix)
		}
	})
}
