package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sandboxagent/core/internal/audit"
	"github.com/sandboxagent/core/internal/config"
	"github.com/sandboxagent/core/internal/model"
	"github.com/sandboxagent/core/internal/store/sqlite"
)

func auditCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the hash-chained per-session audit log and its searchable index",
	}
	root.AddCommand(auditVerifyCmd())
	root.AddCommand(auditRecentCmd())
	root.AddCommand(auditSearchCmd())
	root.AddCommand(auditApprovalsCmd())
	return root
}

func auditRecentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recent [n]",
		Short: "List the most recent structured audit entries across all sessions, or for one session",
		Args:  cobra.MaximumNArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			st, err := openStore()
			if err != nil {
				fmt.Println(err)
				return
			}
			defer st.Close()

			ctx := context.Background()
			if len(args) >= 1 && args[0] == "session" {
				if len(args) < 2 {
					fmt.Println("usage: audit recent session <id> [n]")
					return
				}
				limit := 20
				if len(args) == 3 {
					limit = parseLimit(args, 20)
				}
				entries, err := st.RecentAuditEntries(ctx, args[1], limit)
				if err != nil {
					fmt.Println("query error:", err)
					return
				}
				printAuditEntries(entries)
				return
			}

			limit := parseLimit(args, 20)
			entries, err := st.SearchStructuredAudit(ctx, "", limit)
			if err != nil {
				fmt.Println("query error:", err)
				return
			}
			printAuditEntries(entries)
		},
	}
}

func auditSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query> [n]",
		Short: "Search structured audit entries by event type or payload substring",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			st, err := openStore()
			if err != nil {
				fmt.Println(err)
				return
			}
			defer st.Close()

			limit := 20
			if len(args) > 1 {
				if n, err := strconv.Atoi(args[1]); err == nil && n > 0 {
					limit = n
				}
			}
			entries, err := st.SearchStructuredAudit(context.Background(), args[0], limit)
			if err != nil {
				fmt.Println("query error:", err)
				return
			}
			printAuditEntries(entries)
		},
	}
}

func auditApprovalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals [n]",
		Short: "List recent tool-approval decisions",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			st, err := openStore()
			if err != nil {
				fmt.Println(err)
				return
			}
			defer st.Close()

			limit := parseLimit(args, 20)
			deniedOnly, _ := cmd.Flags().GetBool("denied")
			entries, err := st.GetRecentApprovals(context.Background(), limit, deniedOnly)
			if err != nil {
				fmt.Println("query error:", err)
				return
			}
			if len(entries) == 0 {
				fmt.Println("no approval records")
				return
			}
			for _, e := range entries {
				fmt.Printf("%-24s %-24s approved=%-5v method=%s\n", e.SessionID, e.Action, e.Approved, e.Method)
			}
		},
	}
	cmd.Flags().Bool("denied", false, "only show denied approvals")
	return cmd
}

func printAuditEntries(entries []*model.StructuredAuditEntry) {
	if len(entries) == 0 {
		fmt.Println("no audit entries")
		return
	}
	for _, e := range entries {
		fmt.Printf("%-24s seq=%-5d %-20s %s\n", e.SessionID, e.Seq, e.EventType, e.Timestamp)
	}
}

func parseLimit(args []string, def int) int {
	if len(args) == 0 {
		return def
	}
	if n, err := strconv.Atoi(args[len(args)-1]); err == nil && n > 0 {
		return n
	}
	return def
}

func openStore() (*sqlite.Store, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("config load error: %w", err)
	}
	st, err := sqlite.Open(expandHome(cfg.Database.Path))
	if err != nil {
		return nil, fmt.Errorf("database open error: %w", err)
	}
	return st, nil
}

func auditVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <sessionId>",
		Short: "Replay a session's audit log and verify its hash chain",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				fmt.Println("config load error:", err)
				return
			}
			chain := audit.New(expandHome(cfg.Workspace.Root) + "/audit")
			result := chain.Verify(args[0])

			fmt.Printf("session:  %s\n", args[0])
			fmt.Printf("checked:  %d records\n", result.CheckedRecords)
			fmt.Printf("lastSeq:  %d\n", result.LastSeq)
			if result.OK {
				fmt.Println("status:   OK")
				return
			}
			fmt.Println("status:   TAMPERED")
			for _, e := range result.Errors {
				fmt.Println("  -", e)
			}
		},
	}
}
