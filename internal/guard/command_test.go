// ABOUTME: Tests for first-token command allow/deny matching.
// ABOUTME: Includes a property test for deny precedence.

package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		command string
		pattern string
		want    bool
	}{
		{"ls -la", "ls", true},
		{"ls -la", "ls*", true},
		{"lsof -i", "ls*", true},
		{"lsof -i", "ls", false},
		{"cat file", "ls*", false},
		{"  ls   -la", "ls", true},
		{"", "*", true},
		{"", "ls", false},
	}

	for _, tt := range tests {
		t.Run(tt.command+"/"+tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchPattern(tt.command, tt.pattern))
		})
	}
}

func TestCommandPolicy(t *testing.T) {
	t.Run("allow list", func(t *testing.T) {
		p := CommandPolicy{Allow: []string{"ls*", "cat*"}}
		assert.True(t, p.Allowed("ls -la"))
		assert.True(t, p.Allowed("cat README.md"))
		assert.False(t, p.Allowed("rm file"))
	})

	t.Run("deny wins over wildcard allow", func(t *testing.T) {
		p := CommandPolicy{Allow: []string{"*"}, Deny: []string{"rm*"}}
		assert.False(t, p.Allowed("rm -rf /"))
		assert.True(t, p.Allowed("echo hi"))
	})

	t.Run("empty allow list allows anything not denied", func(t *testing.T) {
		p := CommandPolicy{Deny: []string{"shutdown"}}
		assert.True(t, p.Allowed("whoami"))
		assert.False(t, p.Allowed("shutdown -h now"))
	})

	t.Run("check wraps sentinel", func(t *testing.T) {
		p := CommandPolicy{Deny: []string{"rm*"}}
		assert.ErrorIs(t, p.Check("rm x"), ErrCommandDenied)
		assert.NoError(t, p.Check("ls"))
	})
}

func TestDenyPrecedenceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		token := rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "token")
		args := rapid.StringMatching(`( [a-z0-9/-]{1,6}){0,3}`).Draw(t, "args")
		allow := rapid.SliceOf(rapid.StringMatching(`[a-z]{0,4}\*?`)).Draw(t, "allow")

		p := CommandPolicy{Allow: allow, Deny: []string{token}}
		if p.Allowed(token + args) {
			t.Fatalf("command %q allowed despite exact deny", token+args)
		}
	})
}

func TestParsePatterns(t *testing.T) {
	assert.Equal(t, []string{"ls*", "cat", "git*"}, ParsePatterns(" ls* ,cat,, git* "))
	assert.Nil(t, ParsePatterns(""))
}
