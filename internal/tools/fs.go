package tools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	readMaxLines   = 2000
	readMaxBytes   = 50 * 1024
	readMaxLineLen = 4000
	globMaxMatches = 50
	grepMaxMatches = 30
)

// ReadTool reads file contents with line/byte truncation (§4.4.3).
type ReadTool struct {
	Workspace string
}

func (t *ReadTool) Name() string        { return "read" }
func (t *ReadTool) Description() string { return "Read the contents of a file in the workspace" }
func (t *ReadTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":   map[string]interface{}{"type": "string", "description": "path relative to the workspace root"},
			"offset": map[string]interface{}{"type": "integer", "description": "1-based line to start reading from"},
			"limit":  map[string]interface{}{"type": "integer", "description": "maximum number of lines to return"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	resolved, err := resolvePath(t.Workspace, path)
	if err != nil {
		return ErrorResult(err.Error())
	}

	offset := 1
	if v, ok := numberArg(args["offset"]); ok && v >= 1 {
		offset = v
	}
	limit := readMaxLines
	if v, ok := numberArg(args["limit"]); ok && v >= 1 && v < limit {
		limit = v
	}

	var data []byte
	if strings.EqualFold(filepath.Ext(resolved), ".pdf") {
		text, err := extractPDFText(resolved)
		if err != nil {
			return ErrorResult(fmt.Sprintf("failed to extract text from %s: %v", path, err))
		}
		data = []byte(text)
	} else {
		data, err = os.ReadFile(resolved)
		if err != nil {
			return ErrorResult(fmt.Sprintf("failed to read %s: %v", path, err))
		}
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) == 1 && len(lines[0]) > readMaxBytes {
		return ErrorResult(fmt.Sprintf(
			"file %s contains a single line of %d bytes, too large to read directly; "+
				"use `sed -n '1,1p' %s | fold -w 200` via bash to inspect it in chunks",
			path, len(lines[0]), path))
	}

	start := offset - 1
	if start >= len(lines) {
		return NewResult(fmt.Sprintf("(offset %d is past end of file, %d lines total)", offset, len(lines)))
	}
	end := start + limit
	truncated := end < len(lines)
	if end > len(lines) {
		end = len(lines)
	}
	selected := lines[start:end]

	var b strings.Builder
	total := 0
	cutAt := len(selected)
	for i, l := range selected {
		if len(l) > readMaxLineLen {
			l = l[:readMaxLineLen] + "…[line truncated]"
		}
		if total+len(l)+1 > readMaxBytes {
			cutAt = i
			truncated = true
			break
		}
		b.WriteString(l)
		b.WriteByte('\n')
		total += len(l) + 1
	}
	if cutAt < len(selected) {
		truncated = true
	}

	out := b.String()
	if truncated {
		nextOffset := start + cutAt + 1
		out += fmt.Sprintf("\n…[truncated; continue with offset=%d]", nextOffset)
	}
	return NewResult(out)
}

// extractPDFText pulls plain text out of a PDF, best effort. Agents
// occasionally drop reference PDFs into the workspace; this lets read
// surface their content instead of failing on binary data.
func extractPDFText(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}
	return string(text), nil
}

// WriteTool writes bytes to a file, creating parent directories (§4.4.3).
type WriteTool struct {
	Workspace string
}

func (t *WriteTool) Name() string        { return "write" }
func (t *WriteTool) Description() string { return "Write contents to a file, creating it if absent" }
func (t *WriteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":     map[string]interface{}{"type": "string"},
			"contents": map[string]interface{}{"type": "string"},
		},
		"required": []string{"path", "contents"},
	}
}

func (t *WriteTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	contents, _ := args["contents"].(string)
	resolved, err := resolvePath(t.Workspace, path)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if reason := matchesDestructiveContent(contents); reason != "" {
		return ErrorResult(fmt.Sprintf("Tool blocked by security hook: %s", reason))
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("failed to create parent directories: %v", err))
	}
	if err := os.WriteFile(resolved, []byte(contents), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write %s: %v", path, err))
	}
	return NewResult(fmt.Sprintf("wrote %d bytes to %s", len(contents), path))
}

// EditTool replaces the first count occurrences of old with new (§4.4.3).
type EditTool struct {
	Workspace string
}

func (t *EditTool) Name() string        { return "edit" }
func (t *EditTool) Description() string { return "Replace text in a file" }
func (t *EditTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":  map[string]interface{}{"type": "string"},
			"old":   map[string]interface{}{"type": "string"},
			"new":   map[string]interface{}{"type": "string"},
			"count": map[string]interface{}{"type": "integer", "description": "number of occurrences to replace, default 1"},
		},
		"required": []string{"path", "old", "new"},
	}
}

func (t *EditTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	oldStr, _ := args["old"].(string)
	newStr, _ := args["new"].(string)
	resolved, err := resolvePath(t.Workspace, path)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if reason := matchesDestructiveContent(newStr); reason != "" {
		return ErrorResult(fmt.Sprintf("Tool blocked by security hook: %s", reason))
	}

	count := 1
	if v, ok := numberArg(args["count"]); ok && v >= 1 {
		count = v
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to read %s: %v", path, err))
	}
	content := string(data)
	if !strings.Contains(content, oldStr) {
		return ErrorResult(fmt.Sprintf("old text not found in %s", path))
	}
	replaced := strings.Replace(content, oldStr, newStr, count)
	if err := os.WriteFile(resolved, []byte(replaced), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write %s: %v", path, err))
	}
	n := strings.Count(content, oldStr)
	if n > count {
		n = count
	}
	return NewResult(fmt.Sprintf("replaced %d occurrence(s) in %s", n, path))
}

// DeleteTool unlinks a file, erroring if absent (§4.4.3).
type DeleteTool struct {
	Workspace string
}

func (t *DeleteTool) Name() string        { return "delete" }
func (t *DeleteTool) Description() string { return "Delete a file from the workspace" }
func (t *DeleteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
		"required":   []string{"path"},
	}
}

func (t *DeleteTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	resolved, err := resolvePath(t.Workspace, path)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if _, err := os.Stat(resolved); err != nil {
		return ErrorResult(fmt.Sprintf("%s does not exist", path))
	}
	if err := os.Remove(resolved); err != nil {
		return ErrorResult(fmt.Sprintf("failed to delete %s: %v", path, err))
	}
	return NewResult(fmt.Sprintf("deleted %s", path))
}

// GlobTool finds files matching a shell glob pattern under the workspace (§4.4.3).
type GlobTool struct {
	Workspace string
}

func (t *GlobTool) Name() string        { return "glob" }
func (t *GlobTool) Description() string { return "Find files under the workspace matching a glob pattern" }
func (t *GlobTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"pattern": map[string]interface{}{"type": "string"}},
		"required":   []string{"pattern"},
	}
}

func (t *GlobTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return ErrorResult("pattern is required")
	}

	var matches []string
	root := t.Workspace
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(root, p)
		if rerr != nil {
			return nil
		}
		ok, _ := filepath.Match(pattern, rel)
		if !ok {
			ok, _ = filepath.Match(pattern, filepath.Base(rel))
		}
		if ok {
			matches = append(matches, rel)
			if len(matches) >= globMaxMatches {
				return filepath.SkipAll
			}
		}
		return nil
	})
	sort.Strings(matches)

	if len(matches) == 0 {
		return NewResult(fmt.Sprintf("no files matched %q", pattern))
	}
	out := strings.Join(matches, "\n")
	if len(matches) >= globMaxMatches {
		out += fmt.Sprintf("\n…[truncated at %d matches]", globMaxMatches)
	}
	return NewResult(out)
}

// GrepTool searches file contents for a regular expression (§4.4.3).
type GrepTool struct {
	Workspace string
}

func (t *GrepTool) Name() string        { return "grep" }
func (t *GrepTool) Description() string { return "Search file contents for a pattern" }
func (t *GrepTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{"type": "string"},
			"path":    map[string]interface{}{"type": "string", "description": "optional file or directory to restrict the search to"},
		},
		"required": []string{"pattern"},
	}
}

func (t *GrepTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return ErrorResult("pattern is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid pattern: %v", err))
	}

	searchPath, _ := args["path"].(string)
	root := t.Workspace
	if searchPath != "" {
		resolved, rerr := resolvePath(t.Workspace, searchPath)
		if rerr != nil {
			return ErrorResult(rerr.Error())
		}
		root = resolved
	}

	var lines []string
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if len(lines) >= grepMaxMatches {
			return filepath.SkipAll
		}
		f, ferr := os.Open(p)
		if ferr != nil {
			return nil
		}
		defer f.Close()
		rel, _ := filepath.Rel(t.Workspace, p)
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			if re.MatchString(scanner.Text()) {
				lines = append(lines, fmt.Sprintf("%s:%d:%s", rel, lineNo, scanner.Text()))
				if len(lines) >= grepMaxMatches {
					break
				}
			}
		}
		return nil
	})

	if len(lines) == 0 {
		return NewResult(fmt.Sprintf("no matches for %q", pattern))
	}
	out := strings.Join(lines, "\n")
	if len(lines) >= grepMaxMatches {
		out += fmt.Sprintf("\n…[truncated at %d matches]", grepMaxMatches)
	}
	return NewResult(out)
}

func numberArg(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
