// ABOUTME: Listing filesystem tools: list_directory, sizes, directory_tree, search_files, get_file_info.
// ABOUTME: Exclude and search patterns use gitignore syntax relative to the requested root.

package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/2389/mcpz/internal/guard"
	"github.com/2389/mcpz/internal/mcp"
)

const timeLayout = "2006-01-02 15:04:05"

type pathArgs struct {
	Path *string `json:"path"`
}

func (b *Backend) resolveArg(raw json.RawMessage) (path, resolved string, err error) {
	var args pathArgs
	if err := mcp.DecodeArguments(raw, &args); err != nil {
		return "", "", err
	}
	path, err = required("path", args.Path)
	if err != nil {
		return "", "", err
	}
	resolved, err = b.sandbox.Resolve(path)
	return path, resolved, err
}

func entryPrefix(isDir bool) string {
	if isDir {
		return "[DIR]"
	}
	return "[FILE]"
}

func (b *Backend) listDirectory(_ context.Context, raw json.RawMessage) (string, error) {
	_, resolved, err := b.resolveArg(raw)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", resolved, err)
	}

	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, entryPrefix(entry.IsDir())+" "+entry.Name())
	}
	slices.Sort(lines)
	return strings.Join(lines, "\n"), nil
}

type sizedEntry struct {
	name  string
	isDir bool
	size  uint64
}

func (b *Backend) listDirectoryWithSizes(_ context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Path   *string `json:"path"`
		SortBy string  `json:"sortBy"`
	}
	if err := mcp.DecodeArguments(raw, &args); err != nil {
		return "", err
	}
	path, err := required("path", args.Path)
	if err != nil {
		return "", err
	}
	resolved, err := b.sandbox.Resolve(path)
	if err != nil {
		return "", err
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", resolved, err)
	}

	var (
		rows        []sizedEntry
		files, dirs int
		totalSize   uint64
	)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		row := sizedEntry{name: entry.Name(), isDir: entry.IsDir()}
		if row.isDir {
			dirs++
		} else {
			row.size = uint64(info.Size())
			files++
			totalSize += row.size
		}
		rows = append(rows, row)
	}

	if args.SortBy == "size" {
		slices.SortStableFunc(rows, func(a, b sizedEntry) int {
			switch {
			case a.size > b.size:
				return -1
			case a.size < b.size:
				return 1
			}
			return strings.Compare(a.name, b.name)
		})
	} else {
		slices.SortFunc(rows, func(a, b sizedEntry) int { return strings.Compare(a.name, b.name) })
	}

	lines := make([]string, 0, len(rows)+3)
	for _, row := range rows {
		size := ""
		if !row.isDir {
			size = fmt.Sprintf("%10s", humanize.IBytes(row.size))
		}
		lines = append(lines, fmt.Sprintf("%s %-30s %s", entryPrefix(row.isDir), row.name, size))
	}
	lines = append(lines,
		"",
		fmt.Sprintf("Total: %d files, %d directories", files, dirs),
		fmt.Sprintf("Combined size: %s", humanize.IBytes(totalSize)),
	)
	return strings.Join(lines, "\n"), nil
}

// TreeEntry is one node of directory_tree output. Directories always carry
// a children array, files never do.
type TreeEntry struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Children []TreeEntry `json:"children,omitzero"`
}

type excludeArgs struct {
	Path            *string  `json:"path"`
	Pattern         *string  `json:"pattern"`
	ExcludePatterns []string `json:"excludePatterns"`
}

func compilePatterns(patterns []string) *ignore.GitIgnore {
	if len(patterns) == 0 {
		return nil
	}
	return ignore.CompileIgnoreLines(patterns...)
}

func matches(m *ignore.GitIgnore, rel string) bool {
	return m != nil && m.MatchesPath(rel)
}

func (b *Backend) directoryTree(_ context.Context, raw json.RawMessage) (string, error) {
	var args excludeArgs
	if err := mcp.DecodeArguments(raw, &args); err != nil {
		return "", err
	}
	path, err := required("path", args.Path)
	if err != nil {
		return "", err
	}
	resolved, err := b.sandbox.Resolve(path)
	if err != nil {
		return "", err
	}

	tree, err := buildTree(resolved, resolved, compilePatterns(args.ExcludePatterns))
	if err != nil {
		return "", err
	}
	out, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode tree: %w", err)
	}
	return string(out), nil
}

func buildTree(root, dir string, exclude *ignore.GitIgnore) ([]TreeEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	nodes := make([]TreeEntry, 0, len(entries))
	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		rel, err := filepath.Rel(root, full)
		if err != nil {
			continue
		}
		if matches(exclude, filepath.ToSlash(rel)) {
			continue
		}

		if !entry.IsDir() {
			nodes = append(nodes, TreeEntry{Name: entry.Name(), Type: "file"})
			continue
		}
		children, err := buildTree(root, full, exclude)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, TreeEntry{Name: entry.Name(), Type: "directory", Children: children})
	}
	return nodes, nil
}

func (b *Backend) searchFiles(_ context.Context, raw json.RawMessage) (string, error) {
	var args excludeArgs
	if err := mcp.DecodeArguments(raw, &args); err != nil {
		return "", err
	}
	path, err := required("path", args.Path)
	if err != nil {
		return "", err
	}
	pattern, err := required("pattern", args.Pattern)
	if err != nil {
		return "", err
	}
	root, err := b.sandbox.Resolve(path)
	if err != nil {
		return "", err
	}

	want := ignore.CompileIgnoreLines(pattern)
	leafOnly := !strings.Contains(strings.TrimSuffix(pattern, "/"), "/")
	exclude := compilePatterns(args.ExcludePatterns)

	var results []string
	walkErr := filepath.WalkDir(root, func(full string, d fs.DirEntry, err error) error {
		if err != nil || full == root {
			return nil
		}
		if !b.sandbox.Contains(full) {
			return skip(d)
		}
		rel, err := filepath.Rel(root, full)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if matches(exclude, rel) {
			return skip(d)
		}
		if searchMatch(want, leafOnly, rel) {
			results = append(results, full)
		}
		return nil
	})
	if walkErr != nil {
		return "", fmt.Errorf("search %s: %w", root, walkErr)
	}

	if len(results) == 0 {
		return "No matches found", nil
	}
	return strings.Join(results, "\n"), nil
}

// searchMatch tests rel against the search pattern. A pattern without a slash
// matches entry names only, so "node_modules" finds the directory itself and
// not every file below it.
func searchMatch(want *ignore.GitIgnore, leafOnly bool, rel string) bool {
	if leafOnly {
		rel = rel[strings.LastIndexByte(rel, '/')+1:]
	}
	return want.MatchesPath(rel)
}

func skip(d fs.DirEntry) error {
	if d.IsDir() {
		return filepath.SkipDir
	}
	return nil
}

func (b *Backend) getFileInfo(_ context.Context, raw json.RawMessage) (string, error) {
	path, resolved, err := b.resolveArg(raw)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", resolved, err)
	}

	isSymlink := false
	if lexical, err := filepath.Abs(guard.ExpandHome(path)); err == nil {
		if linfo, err := os.Lstat(lexical); err == nil {
			isSymlink = linfo.Mode()&fs.ModeSymlink != 0
		}
	}

	accessed := "Unknown"
	if at, ok := accessTime(info); ok {
		accessed = at.Local().Format(timeLayout)
	}

	size := uint64(info.Size())
	lines := []string{
		fmt.Sprintf("size: %d", size),
		fmt.Sprintf("size_formatted: %s", humanize.IBytes(size)),
		fmt.Sprintf("modified: %s", info.ModTime().Local().Format(timeLayout)),
		fmt.Sprintf("accessed: %s", accessed),
		fmt.Sprintf("is_directory: %t", info.IsDir()),
		fmt.Sprintf("is_file: %t", info.Mode().IsRegular()),
		fmt.Sprintf("is_symlink: %t", isSymlink),
		fmt.Sprintf("permissions: %o", info.Mode().Perm()),
	}
	return strings.Join(lines, "\n"), nil
}
