// ABOUTME: Allow/deny pattern matching on the first token of a shell command.
// ABOUTME: Deny patterns win; an empty allow list allows anything not denied.

package guard

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCommandDenied is returned when a command is rejected by a CommandPolicy.
var ErrCommandDenied = errors.New("command denied by security policy")

// CommandPolicy matches commands by their first whitespace-delimited token.
// A pattern ending in "*" is a prefix match; anything else must match exactly.
type CommandPolicy struct {
	Allow []string
	Deny  []string
}

// Allowed reports whether command may run under this policy.
func (p CommandPolicy) Allowed(command string) bool {
	for _, pattern := range p.Deny {
		if MatchPattern(command, pattern) {
			return false
		}
	}

	if len(p.Allow) == 0 {
		return true
	}

	for _, pattern := range p.Allow {
		if MatchPattern(command, pattern) {
			return true
		}
	}
	return false
}

// Check is Allowed as an error.
func (p CommandPolicy) Check(command string) error {
	if !p.Allowed(command) {
		return fmt.Errorf("%w: %s", ErrCommandDenied, FirstToken(command))
	}
	return nil
}

// MatchPattern matches a single pattern against the command's first token.
func MatchPattern(command, pattern string) bool {
	token := FirstToken(command)
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(token, prefix)
	}
	return token == pattern
}

// FirstToken returns the first whitespace-delimited token, or "" for a blank command.
func FirstToken(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// ParsePatterns splits a comma-separated pattern list, trimming items and
// dropping empty ones.
func ParsePatterns(list string) []string {
	var patterns []string
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item != "" {
			patterns = append(patterns, item)
		}
	}
	return patterns
}
