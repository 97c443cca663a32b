package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	memoryMDLimit  = 12_000
	userMDLimit    = 8_000
	dailyNoteLimit = 24_000
)

var dailyNotePattern = regexp.MustCompile(`^memory/\d{4}-\d{2}-\d{2}\.md$`)

// MemoryTool operates on the three durable workspace files allowed by
// §4.4.3: MEMORY.md, USER.md, memory/YYYY-MM-DD.md.
type MemoryTool struct {
	Workspace string
	Now       func() time.Time
}

func (t *MemoryTool) Name() string { return "memory" }
func (t *MemoryTool) Description() string {
	return "Read or update durable notes in MEMORY.md, USER.md, or memory/<date>.md"
}
func (t *MemoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action":  map[string]interface{}{"type": "string", "enum": []string{"read", "append", "write", "replace", "remove", "list", "search"}},
			"file":    map[string]interface{}{"type": "string", "description": "MEMORY.md, USER.md, or memory/YYYY-MM-DD.md"},
			"content": map[string]interface{}{"type": "string"},
			"old":     map[string]interface{}{"type": "string"},
			"new":     map[string]interface{}{"type": "string"},
			"query":   map[string]interface{}{"type": "string"},
		},
		"required": []string{"action"},
	}
}

func (t *MemoryTool) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now().UTC()
}

func (t *MemoryTool) limitFor(file string) (int, error) {
	switch file {
	case "MEMORY.md":
		return memoryMDLimit, nil
	case "USER.md":
		return userMDLimit, nil
	default:
		if dailyNotePattern.MatchString(file) {
			return dailyNoteLimit, nil
		}
		return 0, fmt.Errorf("memory tool may only operate on MEMORY.md, USER.md, or memory/YYYY-MM-DD.md")
	}
}

func (t *MemoryTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	action, _ := args["action"].(string)

	switch action {
	case "list":
		return t.list()
	case "search":
		return t.search(args)
	}

	file, _ := args["file"].(string)
	if file == "" {
		return ErrorResult("file is required")
	}
	limit, err := t.limitFor(file)
	if err != nil {
		return ErrorResult(err.Error())
	}
	resolved, err := resolvePath(t.Workspace, file)
	if err != nil {
		return ErrorResult(err.Error())
	}

	switch action {
	case "read":
		data, err := os.ReadFile(resolved)
		if os.IsNotExist(err) {
			return NewResult(fmt.Sprintf("(%s does not exist yet)", file))
		}
		if err != nil {
			return ErrorResult(fmt.Sprintf("failed to read %s: %v", file, err))
		}
		return NewResult(string(data))

	case "append":
		content, _ := args["content"].(string)
		normalized := normalizeWhitespace(content)
		existing, _ := os.ReadFile(resolved)
		joined := strings.TrimRight(string(existing), "\n")
		if joined != "" {
			joined += "\n\n"
		}
		joined += normalized
		if len(joined) > limit {
			return ErrorResult(fmt.Sprintf("append would exceed the %d-char limit for %s", limit, file))
		}
		if err := t.writeFile(resolved, joined); err != nil {
			return ErrorResult(err.Error())
		}
		return NewResult(fmt.Sprintf("appended to %s", file))

	case "write":
		content, _ := args["content"].(string)
		if len(content) > limit {
			return ErrorResult(fmt.Sprintf("content exceeds the %d-char limit for %s", limit, file))
		}
		if err := t.writeFile(resolved, content); err != nil {
			return ErrorResult(err.Error())
		}
		return NewResult(fmt.Sprintf("wrote %s", file))

	case "replace":
		oldStr, _ := args["old"].(string)
		newStr, _ := args["new"].(string)
		data, err := os.ReadFile(resolved)
		if err != nil {
			return ErrorResult(fmt.Sprintf("failed to read %s: %v", file, err))
		}
		if !strings.Contains(string(data), oldStr) {
			return ErrorResult("old text not found")
		}
		replaced := strings.Replace(string(data), oldStr, newStr, 1)
		if len(replaced) > limit {
			return ErrorResult(fmt.Sprintf("replace would exceed the %d-char limit for %s", limit, file))
		}
		if err := t.writeFile(resolved, replaced); err != nil {
			return ErrorResult(err.Error())
		}
		return NewResult(fmt.Sprintf("replaced text in %s", file))

	case "remove":
		oldStr, _ := args["old"].(string)
		data, err := os.ReadFile(resolved)
		if err != nil {
			return ErrorResult(fmt.Sprintf("failed to read %s: %v", file, err))
		}
		if !strings.Contains(string(data), oldStr) {
			return ErrorResult("text to remove not found")
		}
		replaced := strings.Replace(string(data), oldStr, "", 1)
		if err := t.writeFile(resolved, replaced); err != nil {
			return ErrorResult(err.Error())
		}
		return NewResult(fmt.Sprintf("removed text from %s", file))

	default:
		return ErrorResult(fmt.Sprintf("unknown memory action %q", action))
	}
}

func (t *MemoryTool) writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func (t *MemoryTool) list() *Result {
	var files []string
	for _, f := range []string{"MEMORY.md", "USER.md"} {
		if _, err := os.Stat(filepath.Join(t.Workspace, f)); err == nil {
			files = append(files, f)
		}
	}
	dailyDir := filepath.Join(t.Workspace, "memory")
	entries, err := os.ReadDir(dailyDir)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() && dailyNotePattern.MatchString("memory/"+e.Name()) {
				files = append(files, "memory/"+e.Name())
			}
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return NewResult("no memory files exist yet")
	}
	return NewResult(strings.Join(files, "\n"))
}

func (t *MemoryTool) search(args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	if query == "" {
		return ErrorResult("query is required")
	}
	lowerQuery := strings.ToLower(query)

	var candidates []string
	for _, f := range []string{"MEMORY.md", "USER.md"} {
		candidates = append(candidates, f)
	}
	entries, err := os.ReadDir(filepath.Join(t.Workspace, "memory"))
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				candidates = append(candidates, "memory/"+e.Name())
			}
		}
	}

	var hits []string
	for _, f := range candidates {
		data, err := os.ReadFile(filepath.Join(t.Workspace, f))
		if err != nil {
			continue
		}
		for i, line := range strings.Split(string(data), "\n") {
			if strings.Contains(strings.ToLower(line), lowerQuery) {
				hits = append(hits, fmt.Sprintf("%s:%d:%s", f, i+1, strings.TrimSpace(line)))
			}
		}
	}
	if len(hits) == 0 {
		return NewResult(fmt.Sprintf("no matches for %q in memory files", query))
	}
	return NewResult(strings.Join(hits, "\n"))
}

func normalizeWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
