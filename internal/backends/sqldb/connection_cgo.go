//go:build cgo

// ABOUTME: Links github.com/mattn/go-sqlite3 into cgo builds.
// ABOUTME: Enables the sqlite3: connection scheme.

package sqldb

import _ "github.com/mattn/go-sqlite3"

func init() {
	cgoSQLite3 = true
}
