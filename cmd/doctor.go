package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/sandboxagent/core/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("sandboxctl doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (not found, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  LLM:")
	fmt.Printf("    %-18s %s\n", "Base URL:", orNotSet(cfg.LLM.BaseURL))
	if cfg.APIKey() != "" {
		fmt.Printf("    %-18s set (%s)\n", "API key:", cfg.LLM.APIKeyEnv)
	} else {
		fmt.Printf("    %-18s not set (%s)\n", "API key:", cfg.LLM.APIKeyEnv)
	}

	fmt.Println()
	fmt.Println("  Container pool:")
	fmt.Printf("    %-18s %s\n", "Image:", cfg.Container.Image)
	fmt.Printf("    %-18s %d\n", "Max concurrent:", cfg.Container.MaxConcurrent)
	fmt.Printf("    %-18s %dms\n", "Idle timeout:", cfg.Container.IdleTimeoutMs)

	fmt.Println()
	fmt.Println("  Workspace:")
	ws := expandHome(cfg.Workspace.Root)
	fmt.Printf("    %-18s %s", "Root:", ws)
	if _, err := os.Stat(ws); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Println()
	fmt.Println("  Database:")
	dbPath := expandHome(cfg.Database.Path)
	fmt.Printf("    %-18s %s", "Path:", dbPath)
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Println(" (not created yet)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Println()
	fmt.Println("  External tools:")
	checkBinary("docker")
	checkBinary("git")

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func orNotSet(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

func expandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + path[1:]
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
