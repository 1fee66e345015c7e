// ABOUTME: Read-side filesystem tools: read_file with head/tail and read_multiple_files.
// ABOUTME: Multiple reads fan out through an errgroup while preserving request order.

package filesystem

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/2389/mcpz/internal/mcp"
)

const tailChunkSize = 4096

type readFileArgs struct {
	Path *string `json:"path"`
	Head *int    `json:"head"`
	Tail *int    `json:"tail"`
}

func (b *Backend) readFile(_ context.Context, raw json.RawMessage) (string, error) {
	var args readFileArgs
	if err := mcp.DecodeArguments(raw, &args); err != nil {
		return "", err
	}
	path, err := required("path", args.Path)
	if err != nil {
		return "", err
	}
	if args.Head != nil && args.Tail != nil {
		return "", errors.New("cannot specify both head and tail parameters")
	}

	resolved, err := b.sandbox.Resolve(path)
	if err != nil {
		return "", err
	}

	switch {
	case args.Head != nil:
		return headLines(resolved, *args.Head)
	case args.Tail != nil:
		return tailLines(resolved, *args.Tail)
	}
	return readWhole(resolved)
}

func readWhole(resolved string) (string, error) {
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", resolved, err)
	}
	return string(data), nil
}

// headLines returns the first n lines of the file joined by newlines.
func headLines(path string, n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	lines := make([]string, 0, n)
	for len(lines) < n {
		line, err := r.ReadString('\n')
		if line != "" {
			lines = append(lines, strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read file %s: %w", path, err)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// tailLines returns the last n lines of the file, reading backwards in chunks.
// A trailing newline at end of file does not count as an empty last line.
func tailLines(path string, n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat file %s: %w", path, err)
	}

	var buf []byte
	pos := info.Size()
	for pos > 0 && strings.Count(string(buf), "\n") <= n {
		chunk := min(int64(tailChunkSize), pos)
		pos -= chunk
		part := make([]byte, chunk)
		if _, err := f.ReadAt(part, pos); err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("failed to read file %s: %w", path, err)
		}
		buf = append(part, buf...)
	}

	text := strings.TrimSuffix(strings.ReplaceAll(string(buf), "\r\n", "\n"), "\n")
	if text == "" {
		return "", nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n"), nil
}

func (b *Backend) readMultipleFiles(_ context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Paths *[]string `json:"paths"`
	}
	if err := mcp.DecodeArguments(raw, &args); err != nil {
		return "", err
	}
	if args.Paths == nil {
		return "", errors.New("missing 'paths' argument")
	}
	paths := *args.Paths

	sections := make([]string, len(paths))
	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for i, path := range paths {
		g.Go(func() error {
			content, err := b.readPath(path)
			if err != nil {
				sections[i] = fmt.Sprintf("%s: Error - %v", path, err)
				return nil
			}
			sections[i] = fmt.Sprintf("%s:\n%s\n", path, content)
			return nil
		})
	}
	_ = g.Wait()

	return strings.Join(sections, "\n---\n"), nil
}

func (b *Backend) readPath(path string) (string, error) {
	resolved, err := b.sandbox.Resolve(path)
	if err != nil {
		return "", err
	}
	return readWhole(resolved)
}
