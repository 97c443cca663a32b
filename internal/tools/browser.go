package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// BrowserManager owns the per-session headless browser connection used by
// the browser tool suite (§4.4.3). One browser is lazily launched per
// session key and torn down by browser_close.
type BrowserManager struct {
	mu       sync.Mutex
	sessions map[string]*browserSession
	sockDir  string
}

type browserSession struct {
	browser *rod.Browser
	page    *rod.Page
}

func NewBrowserManager(sockDir string) *BrowserManager {
	return &BrowserManager{sessions: make(map[string]*browserSession), sockDir: sockDir}
}

func (m *BrowserManager) get(sessionID string) (*browserSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[sessionID]; ok {
		return sess, nil
	}

	dir := filepath.Join(m.sockDir, sessionID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("browser: create socket dir: %w", err)
	}
	u := launcher.New().Set("user-data-dir", dir).Headless(true).MustLaunch()
	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("browser: open page: %w", err)
	}
	sess := &browserSession{browser: browser, page: page}
	m.sessions[sessionID] = sess
	return sess, nil
}

// Close tears down a session's browser, used by browser_close.
func (m *BrowserManager) Close(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	_ = sess.browser.Close()
	delete(m.sessions, sessionID)
}

// BrowserBase is embedded by every browser_* tool to share session lookup.
type BrowserBase struct {
	Manager        *BrowserManager
	SessionID      string
	ArtifactsDir   string // .browser-artifacts under the workspace
}

func (b BrowserBase) session() (*browserSession, error) {
	return b.Manager.get(b.SessionID)
}

// NewBrowserBase builds the shared base embedded by one session's browser_*
// tool instances.
func NewBrowserBase(mgr *BrowserManager, sessionID, artifactsDir string) BrowserBase {
	return BrowserBase{Manager: mgr, SessionID: sessionID, ArtifactsDir: artifactsDir}
}

// --- browser_navigate ---

type BrowserNavigateTool struct{ BrowserBase }

func (t *BrowserNavigateTool) Name() string        { return "browser_navigate" }
func (t *BrowserNavigateTool) Description() string { return "Navigate the session's browser to a URL" }
func (t *BrowserNavigateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"url": map[string]interface{}{"type": "string"}},
		"required":   []string{"url"},
	}
}
func (t *BrowserNavigateTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	url, _ := args["url"].(string)
	if url == "" {
		return ErrorResult("url is required")
	}
	if err := checkSSRF(url); err != nil {
		return ErrorResult(fmt.Sprintf("SSRF guard: %v", err))
	}
	sess, err := t.session()
	if err != nil {
		return ErrorResult(err.Error())
	}
	if err := sess.page.Navigate(url); err != nil {
		return ErrorResult(fmt.Sprintf("navigate failed: %v", err))
	}
	if err := sess.page.WaitLoad(); err != nil {
		return ErrorResult(fmt.Sprintf("page did not finish loading: %v", err))
	}
	return NewResult("navigated to " + url)
}

// --- browser_snapshot ---

type BrowserSnapshotTool struct{ BrowserBase }

func (t *BrowserSnapshotTool) Name() string { return "browser_snapshot" }
func (t *BrowserSnapshotTool) Description() string {
	return "Return a text snapshot of the current page's visible content"
}
func (t *BrowserSnapshotTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t *BrowserSnapshotTool) Execute(_ context.Context, _ map[string]interface{}) *Result {
	sess, err := t.session()
	if err != nil {
		return ErrorResult(err.Error())
	}
	html, err := sess.page.HTML()
	if err != nil {
		return ErrorResult(fmt.Sprintf("snapshot failed: %v", err))
	}
	return NewResult(stripTags(html))
}

// --- browser_click ---

type BrowserClickTool struct{ BrowserBase }

func (t *BrowserClickTool) Name() string        { return "browser_click" }
func (t *BrowserClickTool) Description() string { return "Click an element matching a CSS selector" }
func (t *BrowserClickTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"selector": map[string]interface{}{"type": "string"}},
		"required":   []string{"selector"},
	}
}
func (t *BrowserClickTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	selector, _ := args["selector"].(string)
	sess, err := t.session()
	if err != nil {
		return ErrorResult(err.Error())
	}
	el, err := sess.page.Element(selector)
	if err != nil {
		return ErrorResult(fmt.Sprintf("element not found: %v", err))
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return ErrorResult(fmt.Sprintf("click failed: %v", err))
	}
	return NewResult("clicked " + selector)
}

// --- browser_type ---

type BrowserTypeTool struct{ BrowserBase }

func (t *BrowserTypeTool) Name() string        { return "browser_type" }
func (t *BrowserTypeTool) Description() string { return "Type text into an element matching a CSS selector" }
func (t *BrowserTypeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"selector": map[string]interface{}{"type": "string"},
			"text":     map[string]interface{}{"type": "string"},
		},
		"required": []string{"selector", "text"},
	}
}
func (t *BrowserTypeTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	selector, _ := args["selector"].(string)
	text, _ := args["text"].(string)
	sess, err := t.session()
	if err != nil {
		return ErrorResult(err.Error())
	}
	el, err := sess.page.Element(selector)
	if err != nil {
		return ErrorResult(fmt.Sprintf("element not found: %v", err))
	}
	if err := el.Input(text); err != nil {
		return ErrorResult(fmt.Sprintf("type failed: %v", err))
	}
	return NewResult("typed into " + selector)
}

// --- browser_press ---

type BrowserPressTool struct{ BrowserBase }

func (t *BrowserPressTool) Name() string        { return "browser_press" }
func (t *BrowserPressTool) Description() string { return "Press a keyboard key on the current page" }
func (t *BrowserPressTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"key": map[string]interface{}{"type": "string"}},
		"required":   []string{"key"},
	}
}
func (t *BrowserPressTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	key, _ := args["key"].(string)
	sess, err := t.session()
	if err != nil {
		return ErrorResult(err.Error())
	}
	k, ok := keyByName[key]
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown key %q", key))
	}
	if err := sess.page.Keyboard.Type(k); err != nil {
		return ErrorResult(fmt.Sprintf("press failed: %v", err))
	}
	return NewResult("pressed " + key)
}

var keyByName = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Escape":     input.Escape,
	"ArrowDown":  input.ArrowDown,
	"ArrowUp":    input.ArrowUp,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
	"Backspace":  input.Backspace,
}

// --- browser_scroll ---

type BrowserScrollTool struct{ BrowserBase }

func (t *BrowserScrollTool) Name() string        { return "browser_scroll" }
func (t *BrowserScrollTool) Description() string { return "Scroll the current page by a pixel offset" }
func (t *BrowserScrollTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"dx": map[string]interface{}{"type": "integer"},
			"dy": map[string]interface{}{"type": "integer"},
		},
	}
}
func (t *BrowserScrollTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	dx, _ := numberArg(args["dx"])
	dy, _ := numberArg(args["dy"])
	sess, err := t.session()
	if err != nil {
		return ErrorResult(err.Error())
	}
	if err := sess.page.Mouse.Scroll(float64(dx), float64(dy), 1); err != nil {
		return ErrorResult(fmt.Sprintf("scroll failed: %v", err))
	}
	return NewResult(fmt.Sprintf("scrolled by (%d, %d)", dx, dy))
}

// --- browser_back ---

type BrowserBackTool struct{ BrowserBase }

func (t *BrowserBackTool) Name() string        { return "browser_back" }
func (t *BrowserBackTool) Description() string { return "Navigate back in browser history" }
func (t *BrowserBackTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t *BrowserBackTool) Execute(_ context.Context, _ map[string]interface{}) *Result {
	sess, err := t.session()
	if err != nil {
		return ErrorResult(err.Error())
	}
	if err := sess.page.NavigateBack(); err != nil {
		return ErrorResult(fmt.Sprintf("back failed: %v", err))
	}
	return NewResult("navigated back")
}

// --- browser_screenshot ---

type BrowserScreenshotTool struct{ BrowserBase }

func (t *BrowserScreenshotTool) Name() string        { return "browser_screenshot" }
func (t *BrowserScreenshotTool) Description() string { return "Save a screenshot of the current page" }
func (t *BrowserScreenshotTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"filename": map[string]interface{}{"type": "string"}},
	}
}
func (t *BrowserScreenshotTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	filename, _ := args["filename"].(string)
	if filename == "" {
		filename = "screenshot.png"
	}
	dest, err := resolvePath(t.ArtifactsDir, filename)
	if err != nil {
		return ErrorResult(err.Error())
	}
	sess, err := t.session()
	if err != nil {
		return ErrorResult(err.Error())
	}
	data, err := sess.page.Screenshot(false, nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("screenshot failed: %v", err))
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return ErrorResult(err.Error())
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write screenshot: %v", err))
	}
	return NewResult("saved screenshot to " + filename)
}

// --- browser_pdf ---

type BrowserPDFTool struct{ BrowserBase }

func (t *BrowserPDFTool) Name() string        { return "browser_pdf" }
func (t *BrowserPDFTool) Description() string { return "Save the current page as a PDF" }
func (t *BrowserPDFTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"filename": map[string]interface{}{"type": "string"}},
	}
}
func (t *BrowserPDFTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	filename, _ := args["filename"].(string)
	if filename == "" {
		filename = "page.pdf"
	}
	dest, err := resolvePath(t.ArtifactsDir, filename)
	if err != nil {
		return ErrorResult(err.Error())
	}
	sess, err := t.session()
	if err != nil {
		return ErrorResult(err.Error())
	}
	reader, err := sess.page.PDF(nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("pdf export failed: %v", err))
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return ErrorResult(err.Error())
	}
	f, err := os.Create(dest)
	if err != nil {
		return ErrorResult(err.Error())
	}
	defer f.Close()
	if _, err := f.ReadFrom(reader); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write pdf: %v", err))
	}
	return NewResult("saved pdf to " + filename)
}

// --- browser_close ---

type BrowserCloseTool struct{ BrowserBase }

func (t *BrowserCloseTool) Name() string        { return "browser_close" }
func (t *BrowserCloseTool) Description() string { return "Close the session's browser" }
func (t *BrowserCloseTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t *BrowserCloseTool) Execute(_ context.Context, _ map[string]interface{}) *Result {
	t.Manager.Close(t.SessionID)
	return NewResult("browser closed")
}
