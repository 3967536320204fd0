package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/titanous/json5"
)

// Config is the root configuration for the SoloQueue engine.
// Loaded from soloqueue.json5 in the workspace root (JSON5 so the file
// can carry comments), overridable via SOLOQUEUE_CONFIG.
type Config struct {
	Workspace WorkspaceConfig `json:"workspace"`
	Models    ModelsConfig    `json:"models"`
	Memory    MemoryConfig    `json:"memory"`
	Artifacts ArtifactsConfig `json:"artifacts"`
	Gateway   GatewayConfig   `json:"gateway"`
	Embedding EmbeddingConfig `json:"embedding,omitempty"`

	mu sync.RWMutex
}

// WorkspaceConfig locates the sandboxed workspace root.
type WorkspaceConfig struct {
	Root string `json:"root"` // default: current directory
}

// ModelsConfig holds provider defaults for agents that do not pin a model.
type ModelsConfig struct {
	Provider    string  `json:"provider"` // "openai-compatible"
	BaseURL     string  `json:"base_url,omitempty"`
	APIKey      string  `json:"-"` // from env SOLOQUEUE_API_KEY only
	Default     string  `json:"default"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// MemoryConfig tunes the semantic store.
type MemoryConfig struct {
	Enabled        bool    `json:"enabled"`
	DedupThreshold float64 `json:"dedup_threshold,omitempty"` // remember() similarity cutoff, default 0.95
	CompactionDays int     `json:"compaction_days,omitempty"` // entries older than this get summarized
}

// ArtifactsConfig tunes the artifact store and its garbage collector.
type ArtifactsConfig struct {
	RetentionDays   int    `json:"retention_days,omitempty"`    // ephemeral artifact lifetime (default 3)
	GCCron          string `json:"gc_cron,omitempty"`           // maintenance schedule (default "0 3 * * *")
	GCCooldownHours int    `json:"gc_cooldown_hours,omitempty"` // minimum hours between runs (default 24)
	ArchiveDays     int    `json:"archive_days,omitempty"`      // non-ephemeral blobs archived after this (default 7)
}

// GatewayConfig configures the websocket UI channel.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// EmbeddingConfig configures the external embedding adapter.
type EmbeddingConfig struct {
	BaseURL   string `json:"base_url,omitempty"`
	APIKey    string `json:"-"` // from env SOLOQUEUE_EMBEDDING_API_KEY only
	Model     string `json:"model,omitempty"`
	Dimension int    `json:"dimension,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Workspace: WorkspaceConfig{Root: "."},
		Models: ModelsConfig{
			Provider:    "openai-compatible",
			Default:     "deepseek-chat",
			MaxTokens:   8192,
			Temperature: 0.7,
		},
		Memory: MemoryConfig{
			Enabled:        true,
			DedupThreshold: 0.95,
			CompactionDays: 30,
		},
		Artifacts: ArtifactsConfig{
			RetentionDays:   3,
			GCCron:          "0 3 * * *",
			GCCooldownHours: 24,
			ArchiveDays:     7,
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18890,
		},
	}
}

// Load reads configuration from path. A missing file is not an error:
// defaults apply and env overrides still run.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("SOLOQUEUE_CONFIG")
	}
	if path == "" {
		path = "soloqueue.json5"
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults only.
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SOLOQUEUE_API_KEY"); v != "" {
		c.Models.APIKey = v
	}
	if v := os.Getenv("SOLOQUEUE_BASE_URL"); v != "" {
		c.Models.BaseURL = v
	}
	if v := os.Getenv("SOLOQUEUE_EMBEDDING_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("SOLOQUEUE_WORKSPACE"); v != "" {
		c.Workspace.Root = v
	}
}

func (c *Config) normalize() {
	if c.Workspace.Root == "" {
		c.Workspace.Root = "."
	}
	if strings.HasPrefix(c.Workspace.Root, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			c.Workspace.Root = filepath.Join(home, c.Workspace.Root[2:])
		}
	}
	if abs, err := filepath.Abs(c.Workspace.Root); err == nil {
		c.Workspace.Root = abs
	}
	if c.Memory.DedupThreshold <= 0 || c.Memory.DedupThreshold > 1 {
		c.Memory.DedupThreshold = 0.95
	}
	if c.Artifacts.RetentionDays <= 0 {
		c.Artifacts.RetentionDays = 3
	}
	if c.Artifacts.GCCooldownHours <= 0 {
		c.Artifacts.GCCooldownHours = 24
	}
	if c.Artifacts.ArchiveDays <= 0 {
		c.Artifacts.ArchiveDays = 7
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = 18890
	}
}

// ListenAddr returns host:port for the gateway listener.
func (c *Config) ListenAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
}
