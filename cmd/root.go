// Package cmd implements the host-side CLI: a cobra command tree for
// inspecting and operating the core outside of a live turn (§4.9, §10,
// §12).
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X .../cmd.Version=v1.0.0".
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sandboxctl",
	Short: "sandboxctl — sandboxed AI-agent orchestrator control plane",
	Long:  "sandboxctl operates the sandboxed agent orchestrator: inspect audit trails, list scheduled tasks, show delegation limits, run one user turn end to end, and run environment diagnostics.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json5 or $CORE_CONFIG)")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(schedulerCmd())
	rootCmd.AddCommand(delegateCmd())
	rootCmd.AddCommand(serveCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sandboxctl %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("CORE_CONFIG"); v != "" {
		return v
	}
	return "config.json5"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
