// ABOUTME: Filesystem backend (mcpz-filesystem) exposing sandboxed file tools.
// ABOUTME: Every caller-supplied path is resolved through guard.PathSandbox first.

package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/mcpz/internal/guard"
	"github.com/2389/mcpz/internal/mcp"
	"github.com/2389/mcpz/internal/version"
)

// ServerName is reported in serverInfo.
const ServerName = "mcpz-filesystem"

// DefaultReadConcurrency bounds read_multiple_files fan-out.
const DefaultReadConcurrency = 8

// Config configures the filesystem backend.
type Config struct {
	AllowedDirectories []string
	ReadConcurrency    int
	Logger             *slog.Logger
}

// Backend implements mcp.Backend over a set of allowed directories.
type Backend struct {
	sandbox     *guard.PathSandbox
	concurrency int
	logger      *slog.Logger
	handlers    map[string]toolHandler
}

type toolHandler func(ctx context.Context, args json.RawMessage) (string, error)

// New canonicalizes the allowed directories and builds the backend.
func New(cfg Config) (*Backend, error) {
	sandbox, err := guard.NewPathSandbox(cfg.AllowedDirectories)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.ReadConcurrency
	if concurrency <= 0 {
		concurrency = DefaultReadConcurrency
	}

	b := &Backend{
		sandbox:     sandbox,
		concurrency: concurrency,
		logger:      logger,
	}
	b.handlers = map[string]toolHandler{
		"read_file":                 b.readFile,
		"read_multiple_files":       b.readMultipleFiles,
		"write_file":                b.writeFile,
		"edit_file":                 b.editFile,
		"create_directory":          b.createDirectory,
		"list_directory":            b.listDirectory,
		"list_directory_with_sizes": b.listDirectoryWithSizes,
		"directory_tree":            b.directoryTree,
		"move_file":                 b.moveFile,
		"search_files":              b.searchFiles,
		"get_file_info":             b.getFileInfo,
		"list_allowed_directories":  b.listAllowedDirectories,
	}

	logger.Debug("filesystem backend ready", "allowed", sandbox.Roots())
	return b, nil
}

// Name returns the serverInfo name.
func (b *Backend) Name() string { return ServerName }

// Version returns the serverInfo version.
func (b *Backend) Version() string { return version.Version }

// Roots returns the canonical allowed directories.
func (b *Backend) Roots() []string { return b.sandbox.Roots() }

// CallTool runs one filesystem tool. Sandbox denials and I/O failures are
// returned as error results.
func (b *Backend) CallTool(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
	handler, ok := b.handlers[name]
	if !ok {
		return mcp.ErrorResult("Unknown tool: %s", name), nil
	}
	text, err := handler(ctx, args)
	if err != nil {
		b.logger.Debug("filesystem tool failed", "tool", name, "error", err)
		return mcp.ErrorResult("%v", err), nil
	}
	return mcp.TextResult(text), nil
}

// Tools lists the filesystem tools in a fixed order.
func (b *Backend) Tools() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        "read_file",
			Description: "Read the contents of a file. Use 'head' to read first N lines or 'tail' to read last N lines.",
			InputSchema: schema(`{"path":{"type":"string","description":"Path to the file to read"},"head":{"type":"integer","description":"Read only the first N lines"},"tail":{"type":"integer","description":"Read only the last N lines"}}`, "path"),
		},
		{
			Name:        "read_multiple_files",
			Description: "Read multiple files simultaneously. More efficient than reading one by one.",
			InputSchema: schema(`{"paths":{"type":"array","items":{"type":"string"},"description":"Array of file paths to read"}}`, "paths"),
		},
		{
			Name:        "write_file",
			Description: "Create or overwrite a file with new content.",
			InputSchema: schema(`{"path":{"type":"string","description":"Path to the file"},"content":{"type":"string","description":"Content to write"}}`, "path", "content"),
		},
		{
			Name:        "edit_file",
			Description: "Make line-based edits to a file. Returns a diff showing changes.",
			InputSchema: schema(`{"path":{"type":"string","description":"Path to the file"},"edits":{"type":"array","items":{"type":"object","properties":{"oldText":{"type":"string","description":"Text to find"},"newText":{"type":"string","description":"Text to replace with"}},"required":["oldText","newText"]},"description":"Array of edit operations"},"dryRun":{"type":"boolean","description":"Preview changes without writing","default":false}}`, "path", "edits"),
		},
		{
			Name:        "create_directory",
			Description: "Create a new directory (including parent directories).",
			InputSchema: schema(`{"path":{"type":"string","description":"Path to the directory to create"}}`, "path"),
		},
		{
			Name:        "list_directory",
			Description: "List contents of a directory with [FILE] and [DIR] prefixes.",
			InputSchema: schema(`{"path":{"type":"string","description":"Path to the directory"}}`, "path"),
		},
		{
			Name:        "list_directory_with_sizes",
			Description: "List directory contents with file sizes.",
			InputSchema: schema(`{"path":{"type":"string","description":"Path to the directory"},"sortBy":{"type":"string","enum":["name","size"],"description":"Sort by name or size","default":"name"}}`, "path"),
		},
		{
			Name:        "directory_tree",
			Description: "Get a recursive tree view of files and directories as JSON.",
			InputSchema: schema(`{"path":{"type":"string","description":"Path to the root directory"},"excludePatterns":{"type":"array","items":{"type":"string"},"description":"Glob patterns to exclude","default":[]}}`, "path"),
		},
		{
			Name:        "move_file",
			Description: "Move or rename a file or directory.",
			InputSchema: schema(`{"source":{"type":"string","description":"Source path"},"destination":{"type":"string","description":"Destination path"}}`, "source", "destination"),
		},
		{
			Name:        "search_files",
			Description: "Search for files and directories matching a glob pattern. A pattern without '/' matches entry names; a pattern with '/' matches paths relative to the search root.",
			InputSchema: schema(`{"path":{"type":"string","description":"Directory to search in"},"pattern":{"type":"string","description":"Glob pattern (e.g., '*.go', '**/*.txt')"},"excludePatterns":{"type":"array","items":{"type":"string"},"description":"Patterns to exclude","default":[]}}`, "path", "pattern"),
		},
		{
			Name:        "get_file_info",
			Description: "Get detailed metadata about a file or directory.",
			InputSchema: schema(`{"path":{"type":"string","description":"Path to the file or directory"}}`, "path"),
		},
		{
			Name:        "list_allowed_directories",
			Description: "List directories this server is allowed to access.",
			InputSchema: schema(`{}`),
		},
	}
}

func schema(properties string, required ...string) json.RawMessage {
	if len(required) == 0 {
		return json.RawMessage(`{"type":"object","properties":` + properties + `}`)
	}
	quoted := make([]string, len(required))
	for i, r := range required {
		quoted[i] = `"` + r + `"`
	}
	return json.RawMessage(`{"type":"object","properties":` + properties + `,"required":[` + strings.Join(quoted, ",") + `]}`)
}

// required returns the value of a mandatory string argument.
func required(name string, v *string) (string, error) {
	if v == nil {
		return "", fmt.Errorf("missing '%s' argument", name)
	}
	return *v, nil
}

func (b *Backend) listAllowedDirectories(_ context.Context, _ json.RawMessage) (string, error) {
	return "Allowed directories:\n" + strings.Join(b.sandbox.Roots(), "\n"), nil
}
