// ABOUTME: Build-time version information for mcpz binaries.
// ABOUTME: Overridden with -ldflags "-X github.com/2389/mcpz/internal/version.Version=...".

package version

// Version is reported in serverInfo and by `mcpz version`.
var Version = "dev"
