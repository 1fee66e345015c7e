// ABOUTME: SQL statement allow-list keyed on the leading keyword.
// ABOUTME: Read-only mode admits introspection and SELECT-style statements only.

package guard

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrStatementDenied is returned when a statement is not permitted in read-only mode.
var ErrStatementDenied = errors.New("statement not allowed in readonly mode")

// AccessMode is the SQL access level of a backend.
type AccessMode int

const (
	// ReadOnly admits only the keywords in readOnlyKeywords.
	ReadOnly AccessMode = iota
	// FullAccess admits every statement.
	FullAccess
)

var readOnlyKeywords = map[string]bool{
	"SELECT":   true,
	"WITH":     true,
	"EXPLAIN":  true,
	"SHOW":     true,
	"DESCRIBE": true,
	"DESC":     true,
	"PRAGMA":   true,
}

// ParseAccessMode accepts "readonly"/"read-only" and "fullaccess"/"full-access".
func ParseAccessMode(s string) (AccessMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "readonly", "read-only", "ro":
		return ReadOnly, nil
	case "fullaccess", "full-access", "full", "rw":
		return FullAccess, nil
	default:
		return ReadOnly, fmt.Errorf("unknown access mode %q (want readonly or fullaccess)", s)
	}
}

func (m AccessMode) String() string {
	if m == FullAccess {
		return "fullaccess"
	}
	return "readonly"
}

// StatementAllowed reports whether sql may run under mode.
func StatementAllowed(sql string, mode AccessMode) bool {
	if mode == FullAccess {
		return true
	}
	if !readOnlyKeywords[LeadingKeyword(sql)] {
		return false
	}
	return !hasTrailingStatement(sql)
}

// CheckStatement is StatementAllowed as an error.
func CheckStatement(sql string, mode AccessMode) error {
	if !StatementAllowed(sql, mode) {
		return fmt.Errorf("%w: only SELECT, WITH, EXPLAIN, SHOW, DESCRIBE and PRAGMA are permitted", ErrStatementDenied)
	}
	return nil
}

// LeadingKeyword returns the upper-cased run of letters that starts the trimmed statement.
func LeadingKeyword(sql string) string {
	trimmed := strings.TrimSpace(sql)
	end := strings.IndexFunc(trimmed, func(r rune) bool { return !unicode.IsLetter(r) })
	if end == -1 {
		end = len(trimmed)
	}
	return strings.ToUpper(trimmed[:end])
}

// hasTrailingStatement reports whether a ';' outside quotes is followed by more SQL.
func hasTrailingStatement(sql string) bool {
	var quote rune
	for i, r := range sql {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
		case r == ';':
			if strings.TrimSpace(strings.TrimLeft(sql[i:], "; \t\r\n")) != "" {
				return true
			}
		}
	}
	return false
}
