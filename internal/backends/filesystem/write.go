// ABOUTME: Mutating filesystem tools: write_file, edit_file, create_directory and move_file.
// ABOUTME: File contents are replaced atomically through a sibling temp file and rename.

package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/2389/mcpz/internal/mcp"
)

// Edit replaces OldText with NewText.
type Edit struct {
	OldText string `json:"oldText"`
	NewText string `json:"newText"`
}

func (b *Backend) writeFile(_ context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Path    *string `json:"path"`
		Content *string `json:"content"`
	}
	if err := mcp.DecodeArguments(raw, &args); err != nil {
		return "", err
	}
	path, err := required("path", args.Path)
	if err != nil {
		return "", err
	}
	content, err := required("content", args.Content)
	if err != nil {
		return "", err
	}

	resolved, err := b.sandbox.Resolve(path)
	if err != nil {
		return "", err
	}
	if err := writeAtomic(resolved, []byte(content)); err != nil {
		return "", err
	}

	b.logger.Info("file written", "path", resolved, "bytes", len(content))
	return fmt.Sprintf("Successfully wrote to %s", path), nil
}

func (b *Backend) editFile(_ context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Path   *string `json:"path"`
		Edits  *[]Edit `json:"edits"`
		DryRun bool    `json:"dryRun"`
	}
	if err := mcp.DecodeArguments(raw, &args); err != nil {
		return "", err
	}
	path, err := required("path", args.Path)
	if err != nil {
		return "", err
	}
	if args.Edits == nil {
		return "", errors.New("missing 'edits' argument")
	}

	resolved, err := b.sandbox.Resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", resolved, err)
	}

	original := normalizeLineEndings(string(data))
	modified, err := ApplyEdits(original, *args.Edits)
	if err != nil {
		return "", err
	}

	diff, err := UnifiedDiff(original, modified, path)
	if err != nil {
		return "", err
	}

	if !args.DryRun {
		if err := writeAtomic(resolved, []byte(modified)); err != nil {
			return "", err
		}
		b.logger.Info("file edited", "path", resolved, "edits", len(*args.Edits))
	}

	return fmt.Sprintf("```diff\n%s```\n", diff), nil
}

// ApplyEdits applies edits in order. Each edit replaces the first exact
// occurrence of OldText; failing that, the first run of lines whose trimmed
// text equals OldText's trimmed lines, keeping the first matched line's indent.
func ApplyEdits(content string, edits []Edit) (string, error) {
	for _, edit := range edits {
		oldText := normalizeLineEndings(edit.OldText)
		newText := normalizeLineEndings(edit.NewText)
		if oldText == "" {
			return "", errors.New("edit oldText must not be empty")
		}

		if strings.Contains(content, oldText) {
			content = strings.Replace(content, oldText, newText, 1)
			continue
		}

		replaced, ok := replaceFlexible(content, oldText, newText)
		if !ok {
			return "", fmt.Errorf("could not find exact match for edit:\n%s", edit.OldText)
		}
		content = replaced
	}
	return content, nil
}

func replaceFlexible(content, oldText, newText string) (string, bool) {
	lines := strings.Split(content, "\n")
	oldLines := strings.Split(strings.TrimSuffix(oldText, "\n"), "\n")

	for i := 0; i+len(oldLines) <= len(lines); i++ {
		if !linesMatchTrimmed(lines[i:i+len(oldLines)], oldLines) {
			continue
		}

		indent := leadingWhitespace(lines[i])
		newLines := strings.Split(strings.TrimSuffix(newText, "\n"), "\n")
		newLines[0] = indent + strings.TrimLeft(newLines[0], " \t")

		out := make([]string, 0, len(lines)-len(oldLines)+len(newLines))
		out = append(out, lines[:i]...)
		out = append(out, newLines...)
		out = append(out, lines[i+len(oldLines):]...)
		return strings.Join(out, "\n"), true
	}
	return "", false
}

func linesMatchTrimmed(have, want []string) bool {
	for j := range want {
		if strings.TrimSpace(have[j]) != strings.TrimSpace(want[j]) {
			return false
		}
	}
	return true
}

func leadingWhitespace(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}

func normalizeLineEndings(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// UnifiedDiff renders a unified diff of original against modified, labelled with name.
func UnifiedDiff(original, modified, name string) (string, error) {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(modified),
		FromFile: name,
		ToFile:   name,
		Context:  3,
	})
	if err != nil {
		return "", fmt.Errorf("render diff: %w", err)
	}
	if diff != "" && !strings.HasSuffix(diff, "\n") {
		diff += "\n"
	}
	return diff, nil
}

// writeAtomic replaces path with data via a temp file in the same directory,
// keeping the existing file mode when there is one.
func writeAtomic(path string, data []byte) error {
	perm := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp file %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp file %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("failed to set mode on %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to rename temp file to %s: %w", path, err)
	}
	return nil
}

func (b *Backend) createDirectory(_ context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Path *string `json:"path"`
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
	if err := os.MkdirAll(resolved, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", resolved, err)
	}
	return fmt.Sprintf("Successfully created directory %s", path), nil
}

func (b *Backend) moveFile(_ context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Source      *string `json:"source"`
		Destination *string `json:"destination"`
	}
	if err := mcp.DecodeArguments(raw, &args); err != nil {
		return "", err
	}
	source, err := required("source", args.Source)
	if err != nil {
		return "", err
	}
	destination, err := required("destination", args.Destination)
	if err != nil {
		return "", err
	}

	from, err := b.sandbox.Resolve(source)
	if err != nil {
		return "", err
	}
	to, err := b.sandbox.Resolve(destination)
	if err != nil {
		return "", err
	}
	if err := os.Rename(from, to); err != nil {
		return "", fmt.Errorf("failed to move %s to %s: %w", source, destination, err)
	}

	b.logger.Info("file moved", "from", from, "to", to)
	return fmt.Sprintf("Successfully moved %s to %s", source, destination), nil
}
