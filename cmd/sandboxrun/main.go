// Command sandboxrun is the in-container turn process (§4.4). It reads the
// first turn from a private stdin line, runs the bounded Think->Act->Observe
// loop, writes the reply to the mailbox, then polls input.json for
// follow-up turns until the idle timeout elapses.
package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/sandboxagent/core/internal/mailbox"
	"github.com/sandboxagent/core/internal/tools"
	"github.com/sandboxagent/core/internal/turnrunner"
)

const (
	defaultWorkspace   = "/workspace"
	defaultMailbox     = "/mailbox"
	defaultIdleTimeout = 2 * time.Minute
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	workspace := envOr("WORKSPACE_DIR", defaultWorkspace)
	mailboxDir := envOr("MAILBOX_DIR", defaultMailbox)
	idleTimeout := idleTimeoutFromEnv()

	inbox := mailbox.NewInbox(mailboxDir)

	req, err := mailbox.ReadFirstTurn(os.Stdin)
	if err != nil {
		slog.Error("sandboxrun.first_turn_read_failed", "err", err)
		os.Exit(1)
	}

	registry := buildRegistry(workspace, req.SessionID)
	hooks := tools.NewHookChain(&tools.SecurityHook{})
	runner := turnrunner.New(registry, hooks)

	ctx := context.Background()
	for {
		cronTool := tools.NewCronTool(req.ScheduledTasks)
		registry.Register(cronTool)
		runner.SetCronTool(cronTool)

		resp := runner.RunTurn(ctx, *req)
		if err := inbox.WriteResponse(*resp); err != nil {
			slog.Error("sandboxrun.write_response_failed", "err", err)
			os.Exit(1)
		}

		next, err := inbox.PollNext(idleTimeout)
		if err != nil {
			slog.Error("sandboxrun.poll_failed", "err", err)
			os.Exit(1)
		}
		if next == nil {
			slog.Info("sandboxrun.idle_exit")
			os.Exit(0)
		}
		req = next
	}
}

func buildRegistry(workspace, sessionID string) *tools.Registry {
	registry := tools.NewRegistry()
	registry.Register(&tools.ReadTool{Workspace: workspace})
	registry.Register(&tools.WriteTool{Workspace: workspace})
	registry.Register(&tools.EditTool{Workspace: workspace})
	registry.Register(&tools.DeleteTool{Workspace: workspace})
	registry.Register(&tools.GlobTool{Workspace: workspace})
	registry.Register(&tools.GrepTool{Workspace: workspace})
	registry.Register(&tools.BashTool{Workspace: workspace})
	registry.Register(&tools.MemoryTool{Workspace: workspace, Now: time.Now})
	registry.Register(&tools.SessionSearchTool{Workspace: workspace, CurrentSession: sessionID})
	registry.Register(tools.NewWebFetchTool())

	browsers := tools.NewBrowserManager(filepath.Join(workspace, ".browser-sock"))
	artifacts := filepath.Join(workspace, ".browser-artifacts")
	registerBrowserTools(registry, browsers, sessionID, artifacts)
	return registry
}

func registerBrowserTools(registry *tools.Registry, mgr *tools.BrowserManager, sessionID, artifactsDir string) {
	base := tools.NewBrowserBase(mgr, sessionID, artifactsDir)
	registry.Register(&tools.BrowserNavigateTool{BrowserBase: base})
	registry.Register(&tools.BrowserSnapshotTool{BrowserBase: base})
	registry.Register(&tools.BrowserClickTool{BrowserBase: base})
	registry.Register(&tools.BrowserTypeTool{BrowserBase: base})
	registry.Register(&tools.BrowserPressTool{BrowserBase: base})
	registry.Register(&tools.BrowserScrollTool{BrowserBase: base})
	registry.Register(&tools.BrowserBackTool{BrowserBase: base})
	registry.Register(&tools.BrowserScreenshotTool{BrowserBase: base})
	registry.Register(&tools.BrowserPDFTool{BrowserBase: base})
	registry.Register(&tools.BrowserCloseTool{BrowserBase: base})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func idleTimeoutFromEnv() time.Duration {
	v := os.Getenv("CONTAINER_IDLE_TIMEOUT")
	if v == "" {
		return defaultIdleTimeout
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return defaultIdleTimeout
	}
	return time.Duration(ms) * time.Millisecond
}
