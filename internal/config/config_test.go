package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Memory.DedupThreshold != 0.95 {
		t.Errorf("dedup threshold = %f", cfg.Memory.DedupThreshold)
	}
	if cfg.Artifacts.RetentionDays != 3 || cfg.Artifacts.GCCooldownHours != 24 {
		t.Errorf("artifact defaults = %+v", cfg.Artifacts)
	}
	if cfg.Gateway.Port != 18890 {
		t.Errorf("gateway port = %d", cfg.Gateway.Port)
	}
}

func TestLoad_JSON5WithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soloqueue.json5")
	content := `{
	// model settings
	models: {
		provider: "openai-compatible",
		default: "deepseek-reasoner",
		temperature: 0.3,
	},
	memory: {
		enabled: true,
		dedup_threshold: 0.9,
	},
	gateway: {
		host: "0.0.0.0",
		port: 9999,
	},
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Models.Default != "deepseek-reasoner" || cfg.Models.Temperature != 0.3 {
		t.Errorf("models = %+v", cfg.Models)
	}
	if cfg.Memory.DedupThreshold != 0.9 {
		t.Errorf("dedup threshold = %f", cfg.Memory.DedupThreshold)
	}
	if cfg.ListenAddr() != "0.0.0.0:9999" {
		t.Errorf("listen addr = %q", cfg.ListenAddr())
	}
}

func TestLoad_MalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json5")
	if err := os.WriteFile(path, []byte("{{{{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("malformed config accepted")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SOLOQUEUE_API_KEY", "sk-test")
	t.Setenv("SOLOQUEUE_WORKSPACE", t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Models.APIKey != "sk-test" {
		t.Errorf("api key not taken from env")
	}
	if !filepath.IsAbs(cfg.Workspace.Root) {
		t.Errorf("workspace root not absolute: %q", cfg.Workspace.Root)
	}
}

func TestNormalize_ClampsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soloqueue.json5")
	content := `{
	memory: { dedup_threshold: 7.5 },
	artifacts: { retention_days: -1 },
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Memory.DedupThreshold != 0.95 {
		t.Errorf("threshold not clamped: %f", cfg.Memory.DedupThreshold)
	}
	if cfg.Artifacts.RetentionDays != 3 {
		t.Errorf("retention not clamped: %d", cfg.Artifacts.RetentionDays)
	}
}
