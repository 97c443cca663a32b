package tools

import (
	"context"
	"log/slog"
	"regexp"
)

// BeforeToolHook mirrors the registered-extension contract of §4.4.2:
// onBeforeToolCall(name, args) → blockedReason, or "" to allow.
type BeforeToolHook interface {
	Name() string
	OnBeforeToolCall(ctx context.Context, toolName string, args map[string]interface{}) string
}

// HookChain runs registered hooks in order and returns the first non-empty
// blocked reason. Hook panics/errors never escape — a broken extension must
// not break the turn.
type HookChain struct {
	hooks []BeforeToolHook
}

func NewHookChain(hooks ...BeforeToolHook) *HookChain {
	return &HookChain{hooks: hooks}
}

func (c *HookChain) Run(ctx context.Context, toolName string, args map[string]interface{}) (reason string) {
	for _, h := range c.hooks {
		r := c.runOne(ctx, h, toolName, args)
		if r != "" {
			return r
		}
	}
	return ""
}

func (c *HookChain) runOne(ctx context.Context, h BeforeToolHook, toolName string, args map[string]interface{}) (reason string) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("tools.hook_panic", "hook", h.Name(), "recovered", rec)
			reason = ""
		}
	}()
	return h.OnBeforeToolCall(ctx, toolName, args)
}

// destructiveContentPattern pairs a write/edit destination content pattern
// the built-in security-hook rejects with the reason reported for it
// (§4.4.2, §8 scenario 2).
type destructiveContentPattern struct {
	re     *regexp.Regexp
	reason string
}

var destructiveContentPatterns = []destructiveContentPattern{
	{regexp.MustCompile(`rm\s+-rf\s+/(\s|$)`), "Detected destructive root delete pattern (`rm -rf /`) in file content."},
	{regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*;\s*\}\s*;\s*:`), "Detected fork-bomb pattern in file content."},
	{regexp.MustCompile(`curl[^\n|]*\|\s*(sh|bash|zsh)\b`), "Detected pipe-to-shell download pattern in file content."},
	{regexp.MustCompile(`wget[^\n|]*\|\s*(sh|bash|zsh)\b`), "Detected pipe-to-shell download pattern in file content."},
}

// exfiltrationPatterns match bash commands the built-in security-hook
// rejects (§4.4.2).
var exfiltrationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(cat|sed|awk)\b[^\n]*\.(env|pem|key|p12)\b[^\n]*(\|\s*(curl|wget)\b|>\s*/dev/tcp)`),
	regexp.MustCompile(`(?i)\b(printenv|env)\b[^\n]*(\|\s*(curl|wget)\b|>\s*/dev/tcp)`),
}

func matchesDestructiveContent(content string) string {
	for _, p := range destructiveContentPatterns {
		if p.re.MatchString(content) {
			return p.reason
		}
	}
	return ""
}

func matchesExfiltration(command string) string {
	for _, re := range exfiltrationPatterns {
		if re.MatchString(command) {
			return "exfiltration pattern detected"
		}
	}
	return ""
}

// SecurityHook is the built-in hook named "security-hook" in §4.4.2.
type SecurityHook struct{}

func (SecurityHook) Name() string { return "security-hook" }

func (SecurityHook) OnBeforeToolCall(_ context.Context, toolName string, args map[string]interface{}) string {
	switch toolName {
	case "write", "edit":
		content, _ := args["contents"].(string)
		if content == "" {
			content, _ = args["new"].(string)
		}
		if reason := matchesDestructiveContent(content); reason != "" {
			return reason
		}
	case "bash":
		command, _ := args["command"].(string)
		if reason := matchesExfiltration(command); reason != "" {
			return reason
		}
	}
	return ""
}
