// Package config loads the core's configuration: a JSON5 file overlaid by
// environment variables (§6 "Environment variables that influence the
// core").
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/titanous/json5"
)

// Config is the root configuration for the core.
type Config struct {
	LLM         LLMConfig         `json:"llm"`
	Container   ContainerConfig   `json:"container"`
	Retry       RetryConfig       `json:"retry"`
	Browser     BrowserConfig     `json:"browser"`
	Compaction  CompactionConfig  `json:"compaction"`
	Delegation  DelegationConfig  `json:"delegation"`
	Workspace   WorkspaceConfig   `json:"workspace"`
	Database    DatabaseConfig    `json:"database"`
}

// LLMConfig points at the remote chat-completions endpoint (§6).
type LLMConfig struct {
	BaseURL   string `json:"baseUrl"`
	APIKeyEnv string `json:"apiKeyEnv"` // name of the env var holding the bearer token; never persisted
	Model     string `json:"model"`
	ChatbotID string `json:"chatbotId"`
	EnableRAG bool   `json:"enableRag"`
}

// ContainerConfig holds the container pool settings (C6, §4.5). The pool is
// built from Image and IdleTimeoutMs only. MaxConcurrent, TimeoutMs and
// MaxOutputBytes are loaded and printed by doctor but not passed to the
// pool, which caps live containers at containerpool.MaxConcurrent and
// applies no per-turn ceiling or output cap from this struct.
type ContainerConfig struct {
	Image           string `json:"image"`
	MaxConcurrent   int    `json:"maxConcurrent"`   // default 5
	IdleTimeoutMs   int    `json:"idleTimeoutMs"`   // default 120000
	TimeoutMs       int    `json:"timeoutMs"`       // default 300000
	MaxOutputBytes  int    `json:"maxOutputBytes"`  // default 1 MiB
}

// RetryConfig holds the model-call retry settings (§4.4.1), loaded from the
// file and the MODEL_RETRY_* variables. The turn runner does not read it:
// its retry loop uses the fixed retryBaseDelay, retryMaxDelay and
// retryMaxAttempts constants, whose values equal these defaults.
type RetryConfig struct {
	BaseDelay   time.Duration `json:"baseDelay"`
	MaxDelay    time.Duration `json:"maxDelay"`
	MaxAttempts int           `json:"maxAttempts"`
}

// BrowserConfig holds the browser automation settings (§4.4.3 domain
// stack, go-rod). AllowPrivateNetwork is loaded but not read by the browser
// tools: their SSRF check always rejects private and loopback addresses.
type BrowserConfig struct {
	AllowPrivateNetwork bool `json:"allowPrivateNetwork"`
}

// CompactionConfig tunes session compaction (C9, §4.8).
type CompactionConfig struct {
	Threshold       int  `json:"threshold"`       // default 120
	KeepRecent      int  `json:"keepRecent"`       // default 40
	SummaryMaxChars int  `json:"summaryMaxChars"`  // default 8000
	MemoryFlushOn   bool `json:"memoryFlushOn"`    // default true
}

// DelegationConfig tunes the delegation manager (C8, §4.7).
type DelegationConfig struct {
	MaxDepth   int `json:"maxDepth"`
	MaxPerTurn int `json:"maxPerTurn"`
}

// WorkspaceConfig locates the per-session filesystem root and its runtime
// cache subdirectory.
type WorkspaceConfig struct {
	Root        string `json:"root"`
	RuntimeDir  string `json:"runtimeDir"` // e.g. ".agent-runtime" under Root
}

// DatabaseConfig points at the SQLite store file.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// Default returns a Config with the spec's cited defaults.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			APIKeyEnv: "CORE_LLM_API_KEY",
			EnableRAG: false,
		},
		Container: ContainerConfig{
			Image:          "sandboxagent-core:bookworm-slim",
			MaxConcurrent:  5,
			IdleTimeoutMs:  120_000,
			TimeoutMs:      300_000,
			MaxOutputBytes: 1024 * 1024,
		},
		Retry: RetryConfig{
			BaseDelay:   2 * time.Second,
			MaxDelay:    8 * time.Second,
			MaxAttempts: 3,
		},
		Browser: BrowserConfig{AllowPrivateNetwork: false},
		Compaction: CompactionConfig{
			Threshold:       120,
			KeepRecent:      40,
			SummaryMaxChars: 8000,
			MemoryFlushOn:   true,
		},
		Delegation: DelegationConfig{MaxDepth: 3, MaxPerTurn: 6},
		Workspace:  WorkspaceConfig{Root: "~/.sandboxagent/workspace", RuntimeDir: ".agent-runtime"},
		Database:   DatabaseConfig{Path: "~/.sandboxagent/core.db"},
	}
}

// Load reads a JSON5 config file (if present) and overlays environment
// variables documented in §6. A missing file is not an error — the
// defaults plus env overlay are used as-is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONTAINER_IDLE_TIMEOUT"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Container.IdleTimeoutMs = ms
		}
	}
	if v := os.Getenv("CONTAINER_TIMEOUT"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Container.TimeoutMs = ms
		}
	}
	if v := os.Getenv("MAX_CONCURRENT_CONTAINERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Container.MaxConcurrent = n
		}
	}
	if v := os.Getenv("CONTAINER_MAX_OUTPUT_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Container.MaxOutputBytes = n
		}
	}
	if v := os.Getenv("BROWSER_ALLOW_PRIVATE_NETWORK"); v != "" {
		cfg.Browser.AllowPrivateNetwork = v == "1" || v == "true"
	}

	// Per-turn model-call retry knobs. See DESIGN.md for why this prefix
	// was chosen.
	if v := os.Getenv("MODEL_RETRY_BASE_DELAY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Retry.BaseDelay = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("MODEL_RETRY_MAX_DELAY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Retry.MaxDelay = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("MODEL_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.MaxAttempts = n
		}
	}

	if v := os.Getenv("COMPACTION_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Compaction.Threshold = n
		}
	}
	if v := os.Getenv("CORE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("CORE_WORKSPACE_ROOT"); v != "" {
		cfg.Workspace.Root = v
	}
}

// APIKey resolves the LLM bearer token from the configured env var. It is
// never read from the config file itself (§4.3 "never written to disk").
func (c *Config) APIKey() string {
	return os.Getenv(c.LLM.APIKeyEnv)
}
