package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Raiccio/demographics-backend/internal/retry"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "scheduler:\n  fetch_interval_seconds: 60\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Source.URL == "" {
		t.Error("expected default source url")
	}
	if cfg.Scheduler.FetchInterval() != 60*time.Second {
		t.Errorf("fetch interval = %v, want 60s", cfg.Scheduler.FetchInterval())
	}
	if cfg.Scheduler.ProcessInterval() != 3600*time.Second {
		t.Errorf("process interval = %v, want default 3600s", cfg.Scheduler.ProcessInterval())
	}
	if !cfg.Scheduler.IsEnabled() {
		t.Error("scheduler should default to enabled")
	}
	if cfg.Data.ArchiveDir != "processed" || cfg.Data.ErrorDir != "error" {
		t.Errorf("unexpected data subdirs: %q %q", cfg.Data.ArchiveDir, cfg.Data.ErrorDir)
	}
	if cfg.HTTP.APIPort == cfg.HTTP.AdminPort {
		t.Error("default ports must differ")
	}
}

func TestLoadExplicitDisable(t *testing.T) {
	path := writeConfig(t, "scheduler:\n  enabled: false\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Scheduler.IsEnabled() {
		t.Error("explicit enabled: false must stick")
	}
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("DEMO_SOURCE_URL", "https://example.test/FeatureServer/0/query")
	path := writeConfig(t, "source:\n  url: ${DEMO_SOURCE_URL}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Source.URL != "https://example.test/FeatureServer/0/query" {
		t.Errorf("env not expanded: %q", cfg.Source.URL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Source.URL = "ftp://example.test/query"
	if err := cfg.Validate(); err == nil {
		t.Error("expected scheme validation error")
	}

	cfg = Default()
	cfg.HTTP.AdminPort = cfg.HTTP.APIPort
	if err := cfg.Validate(); err == nil {
		t.Error("expected port collision error")
	}
}

func TestRetryPolicy(t *testing.T) {
	cfg := Default()
	cfg.Retry.Mode = "exponential"
	cfg.Retry.InitialSeconds = 2
	cfg.Retry.MaxRetries = 4

	p := cfg.Retry.Policy()
	if p.Mode != retry.BackoffExponential {
		t.Errorf("mode = %s", p.Mode)
	}
	if p.Initial != 2*time.Second || p.MaxRetries != 4 {
		t.Errorf("policy = %+v", p)
	}
}
