package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sandboxagent/core/internal/config"
)

func delegateCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "delegate",
		Short: "Inspect delegation manager configuration",
	}
	root.AddCommand(delegateConfigCmd())
	return root
}

func delegateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective delegation caps",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				fmt.Println("config load error:", err)
				return
			}
			fmt.Printf("maxDepth:   %d\n", cfg.Delegation.MaxDepth)
			fmt.Printf("maxPerTurn: %d\n", cfg.Delegation.MaxPerTurn)
		},
	}
}
