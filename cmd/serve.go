package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	dockerclient "github.com/docker/docker/client"
	"github.com/spf13/cobra"

	"github.com/sandboxagent/core/internal/audit"
	"github.com/sandboxagent/core/internal/compaction"
	"github.com/sandboxagent/core/internal/config"
	"github.com/sandboxagent/core/internal/containerpool"
	"github.com/sandboxagent/core/internal/delegation"
	"github.com/sandboxagent/core/internal/orchestrator"
	"github.com/sandboxagent/core/internal/scheduler"
	"github.com/sandboxagent/core/internal/store/sqlite"
	"github.com/sandboxagent/core/internal/turndriver"
)

func serveCmd() *cobra.Command {
	var sessionID, channelID string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run one user turn end to end against the container pool, store, scheduler, and delegation manager",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) == 0 {
				fmt.Println("usage: sandboxctl serve <message>")
				return
			}
			runServe(sessionID, channelID, args[0])
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "default", "session id to resolve or create")
	cmd.Flags().StringVar(&channelID, "channel", "cli", "channel id recorded on the session")
	return cmd
}

func runServe(sessionID, channelID, message string) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Println("config load error:", err)
		return
	}

	st, err := sqlite.Open(expandHome(cfg.Database.Path))
	if err != nil {
		fmt.Println("database open error:", err)
		return
	}
	defer st.Close()

	docker, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		fmt.Println("docker client error:", err)
		return
	}

	workspaceRoot := expandHome(cfg.Workspace.Root)
	mailboxRoot := workspaceRoot + "/" + cfg.Workspace.RuntimeDir + "/mailboxes"
	if err := os.MkdirAll(workspaceRoot, 0o755); err != nil {
		fmt.Println("workspace root error:", err)
		return
	}
	if err := os.MkdirAll(mailboxRoot, 0o755); err != nil {
		fmt.Println("mailbox root error:", err)
		return
	}

	pool := containerpool.New(containerpool.Config{
		Docker:        docker,
		Image:         cfg.Container.Image,
		MailboxRoot:   mailboxRoot,
		WorkspaceRoot: workspaceRoot,
		IdleTimeout:   time.Duration(cfg.Container.IdleTimeoutMs) * time.Millisecond,
	})
	defer pool.StopAll(context.Background())

	exec := &orchestrator.PoolExecutor{
		Pool:      pool,
		BaseURL:   cfg.LLM.BaseURL,
		APIKey:    cfg.APIKey(),
		ChatbotID: cfg.LLM.ChatbotID,
	}

	sched := scheduler.New(scheduler.NewStoreAdapter(st), func(ctx context.Context, task scheduler.Task, wrappedPrompt string) error {
		_, err := exec.RunIsolatedTurn(ctx, scheduler.ChildSessionID(task.ID), "", wrappedPrompt, scheduler.AllowedTools)
		return err
	})
	defer sched.Stop()

	delegations := delegation.New(exec, cfg.Delegation.MaxDepth, cfg.Delegation.MaxPerTurn)
	compactor := compaction.New(st, exec.RunIsolatedTurn, compaction.Config{
		Threshold:       cfg.Compaction.Threshold,
		KeepRecent:      cfg.Compaction.KeepRecent,
		SummaryMaxChars: cfg.Compaction.SummaryMaxChars,
		MemoryFlushOn:   cfg.Compaction.MemoryFlushOn,
	})

	auditChain := audit.New(workspaceRoot + "/audit")

	driver := &turndriver.Driver{
		Store:       st,
		Pool:        pool,
		Scheduler:   sched,
		Delegations: delegations,
		Compactor:   compactor,
		Audit:       auditChain,
		BaseURL:     cfg.LLM.BaseURL,
	}

	if err := sched.Rearm(context.Background()); err != nil {
		fmt.Println("scheduler rearm warning:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result := driver.RunUserTurn(ctx, sessionID, message, turndriver.TurnOverrides{
		BotID:     cfg.LLM.ChatbotID,
		ModelID:   cfg.LLM.Model,
		ChannelID: channelID,
	})
	if result.Err != nil {
		fmt.Println("turn error:", result.Err)
		os.Exit(1)
	}
	fmt.Println(result.Reply)
}
