package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const sessionSearchMaxResults = 5

// transcriptLine is one recorded message in a .session-transcripts/*.jsonl file.
type transcriptLine struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type sessionHit struct {
	sessionFile string
	score       int
	matches     int
	snippets    []string
}

// SessionSearchTool scans prior session transcripts for relevant context
// (§4.4.3).
type SessionSearchTool struct {
	Workspace      string
	CurrentSession string
}

func (t *SessionSearchTool) Name() string        { return "session_search" }
func (t *SessionSearchTool) Description() string { return "Search prior session transcripts for relevant context" }
func (t *SessionSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query":           map[string]interface{}{"type": "string"},
			"limit":           map[string]interface{}{"type": "integer", "description": "max 5"},
			"role_filter":     map[string]interface{}{"type": "string"},
			"include_current": map[string]interface{}{"type": "boolean"},
		},
		"required": []string{"query"},
	}
}

func (t *SessionSearchTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	if query == "" {
		return ErrorResult("query is required")
	}
	limit := sessionSearchMaxResults
	if v, ok := numberArg(args["limit"]); ok && v >= 1 && v < limit {
		limit = v
	}
	roleFilter, _ := args["role_filter"].(string)
	includeCurrent, _ := args["include_current"].(bool)

	dir := filepath.Join(t.Workspace, ".session-transcripts")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return NewResult("no prior sessions found")
	}

	terms := strings.Fields(strings.ToLower(query))
	var hits []sessionHit
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		if !includeCurrent && strings.TrimSuffix(e.Name(), ".jsonl") == t.CurrentSession {
			continue
		}
		hit := scoreTranscript(filepath.Join(dir, e.Name()), e.Name(), terms, roleFilter)
		if hit.matches > 0 {
			hits = append(hits, hit)
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	if len(hits) == 0 {
		return NewResult(fmt.Sprintf("no sessions matched %q", query))
	}

	var b strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&b, "## %s (score %d, %d matches)\n", h.sessionFile, h.score, h.matches)
		for _, s := range h.snippets {
			b.WriteString("  " + s + "\n")
		}
	}
	return NewResult(b.String())
}

func scoreTranscript(path, name string, terms []string, roleFilter string) sessionHit {
	hit := sessionHit{sessionFile: strings.TrimSuffix(name, ".jsonl")}
	f, err := os.Open(path)
	if err != nil {
		return hit
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var line transcriptLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if roleFilter != "" && line.Role != roleFilter {
			continue
		}
		lower := strings.ToLower(line.Content)
		matched := false
		for _, term := range terms {
			if strings.Contains(lower, term) {
				hit.score++
				matched = true
			}
		}
		if matched {
			hit.matches++
			if len(hit.snippets) < 3 {
				hit.snippets = append(hit.snippets, abbreviate(line.Content, 160))
			}
		}
	}
	return hit
}

func abbreviate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
