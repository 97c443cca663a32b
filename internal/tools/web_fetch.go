package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/time/rate"
)

const (
	webFetchDefaultMaxChars = 50_000
	webFetchMaxRedirects    = 5
	webFetchBodyCap         = 2 * 1024 * 1024
	webFetchTimeout         = 30 * time.Second
	webFetchUserAgent       = "Mozilla/5.0 (compatible; sandbox-agent/1.0)"
	webFetchRateLimit       = 2 // requests per second, per session tool instance
	webFetchRateBurst       = 4
)

// WebFetchTool retrieves a URL and extracts readable content (§4.4.3). Calls
// are paced by a token-bucket limiter so a runaway loop in a turn can't turn
// web_fetch into an outbound flood.
type WebFetchTool struct {
	cache   *webCache
	limiter *rate.Limiter
}

func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{
		cache:   newWebCache(webCacheMaxEntries, webCacheTTL),
		limiter: rate.NewLimiter(rate.Limit(webFetchRateLimit), webFetchRateBurst),
	}
}

func (t *WebFetchTool) Name() string        { return "web_fetch" }
func (t *WebFetchTool) Description() string { return "Fetch a URL and extract its readable content" }
func (t *WebFetchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url":         map[string]interface{}{"type": "string"},
			"extractMode": map[string]interface{}{"type": "string", "enum": []string{"markdown", "text"}},
			"maxChars":    map[string]interface{}{"type": "integer", "description": "up to 50000"},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return ErrorResult("url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return ErrorResult("url must be a valid http or https URL")
	}

	extractMode := "markdown"
	if em, ok := args["extractMode"].(string); ok && (em == "markdown" || em == "text") {
		extractMode = em
	}
	maxChars := webFetchDefaultMaxChars
	if v, ok := numberArg(args["maxChars"]); ok && v >= 1 && v <= webFetchDefaultMaxChars {
		maxChars = v
	}

	cacheKey := fmt.Sprintf("%s|%s|%d", rawURL, extractMode, maxChars)
	if cached, ok := t.cache.get(cacheKey); ok {
		return NewResult(cached)
	}

	record, err := t.fetch(ctx, rawURL, extractMode, maxChars)
	if err != nil {
		return ErrorResult(fmt.Sprintf("web_fetch failed: %v", err))
	}
	out := formatFetchRecord(record)
	t.cache.set(cacheKey, out)
	return NewResult(out)
}

type fetchRecord struct {
	URL       string
	Status    int
	Extractor string
	Text      string
	Truncated bool
}

func (t *WebFetchTool) fetch(ctx context.Context, rawURL, extractMode string, maxChars int) (*fetchRecord, error) {
	if err := checkSSRF(rawURL); err != nil {
		return nil, err
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	currentURL := rawURL
	client := &http.Client{
		Timeout: webFetchTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	var resp *http.Response
	for redirects := 0; ; redirects++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, currentURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", webFetchUserAgent)

		resp, err = client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch: %w", err)
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if loc == "" {
				return nil, fmt.Errorf("redirect with no Location header")
			}
			next, err := resp.Request.URL.Parse(loc)
			if err != nil {
				return nil, fmt.Errorf("invalid redirect target: %w", err)
			}
			if redirects+1 > webFetchMaxRedirects {
				return nil, fmt.Errorf("stopped after %d redirects", webFetchMaxRedirects)
			}
			if err := checkSSRF(next.String()); err != nil {
				return nil, fmt.Errorf("redirect target blocked: %w", err)
			}
			currentURL = next.String()
			continue
		}
		break
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, webFetchBodyCap))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	text, extractor, err := extractContent(currentURL, contentType, body, extractMode)
	if err != nil {
		return nil, err
	}

	truncated := false
	if len(text) > maxChars {
		text = text[:maxChars]
		truncated = true
	}

	return &fetchRecord{
		URL:       currentURL,
		Status:    resp.StatusCode,
		Extractor: extractor,
		Text:      text,
		Truncated: truncated,
	}, nil
}

func extractContent(pageURL, contentType string, body []byte, extractMode string) (string, string, error) {
	switch {
	case strings.Contains(contentType, "application/json"):
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, body, "", "  "); err != nil {
			return string(body), "json", nil
		}
		return pretty.String(), "json", nil

	case strings.Contains(contentType, "text/markdown"):
		if extractMode == "text" {
			return markdownToPlainText(body), "markdown", nil
		}
		return string(body), "markdown", nil

	case strings.Contains(contentType, "text/html"), strings.Contains(contentType, "application/xhtml"):
		u, _ := url.Parse(pageURL)
		article, err := readability.FromReader(bytes.NewReader(body), u)
		if err != nil {
			return stripTags(string(body)), "readability", nil
		}
		if extractMode == "text" {
			return article.TextContent, "readability", nil
		}
		var b strings.Builder
		if article.Title != "" {
			b.WriteString("# " + article.Title + "\n\n")
		}
		b.WriteString(article.TextContent)
		return b.String(), "readability", nil

	default:
		return string(body), "raw", nil
	}
}

// markdownToPlainText walks a parsed markdown document and concatenates its
// text-node content, used when extractMode=text against a genuine markdown
// source document.
func markdownToPlainText(src []byte) string {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))
	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() == ast.KindText {
			b.Write(n.(*ast.Text).Segment.Value(src))
			b.WriteByte(' ')
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

func stripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func formatFetchRecord(r *fetchRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nStatus: %d\nExtractor: %s\nTruncated: %t\n\n", r.URL, r.Status, r.Extractor, r.Truncated)
	b.WriteString(r.Text)
	return b.String()
}
