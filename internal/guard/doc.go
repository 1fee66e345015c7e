// Package guard holds the capability checks shared by the mcpz backends.
//
// Three independent policies live here:
//
//   - PathSandbox confines filesystem access to a set of canonical roots.
//   - CommandPolicy allows or denies shell commands by their first token.
//   - AccessMode gates SQL statements by their leading keyword.
//
// The guards are pure: they hold no mutable state after construction and are
// safe for concurrent use. A rejection is reported as an error wrapping one of
// the package sentinels so callers can turn it into a tool-level failure
// rather than a protocol error.
package guard
