package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sandboxagent/core/internal/config"
	"github.com/sandboxagent/core/internal/store/sqlite"
)

func schedulerCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "scheduler",
		Short: "Inspect scheduled tasks",
	}
	root.AddCommand(schedulerListCmd())
	return root
}

func schedulerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List enabled scheduled tasks",
		Run: func(cmd *cobra.Command, args []string) {
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

			tasks, err := st.ListEnabledTasks(context.Background())
			if err != nil {
				fmt.Println("list error:", err)
				return
			}
			if len(tasks) == 0 {
				fmt.Println("no enabled tasks")
				return
			}
			for _, t := range tasks {
				kind := "one-shot"
				switch {
				case t.IsInterval():
					kind = fmt.Sprintf("every %dms", t.EveryMs)
				case t.IsCron():
					kind = "cron " + t.CronExpr
				}
				fmt.Printf("%-24s %-20s %s\n", t.ID, kind, t.Prompt)
			}
		},
	}
}
