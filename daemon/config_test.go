package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDiscoverConfigPathFrom_FirstMatchWins(t *testing.T) {
	cwd := t.TempDir()
	home := t.TempDir()

	projectConfig := filepath.Join(cwd, projectConfigName)
	if err := os.WriteFile(projectConfig, []byte("store:\n  dsn: project.db\n"), 0o600); err != nil {
		t.Fatalf("WriteFile(project config): %v", err)
	}

	homeDir := filepath.Join(home, ".invokeai-graph")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("MkdirAll(home config dir): %v", err)
	}
	if err := os.WriteFile(filepath.Join(homeDir, homeConfigName), []byte("store:\n  dsn: home.db\n"), 0o600); err != nil {
		t.Fatalf("WriteFile(home config): %v", err)
	}

	got, found, err := DiscoverConfigPathFrom("", cwd, home)
	if err != nil {
		t.Fatalf("DiscoverConfigPathFrom: %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if got != projectConfig {
		t.Fatalf("path = %q, want %q", got, projectConfig)
	}
}

func TestDiscoverConfigPathFrom_ExplicitNotFound(t *testing.T) {
	_, found, err := DiscoverConfigPathFrom(filepath.Join(t.TempDir(), "missing.yaml"), t.TempDir(), t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing explicit config path")
	}
	if found {
		t.Fatal("found = true, want false")
	}
}

func TestDiscoverConfigPathFrom_NoneFound(t *testing.T) {
	_, found, err := DiscoverConfigPathFrom("", t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("DiscoverConfigPathFrom: %v", err)
	}
	if found {
		t.Fatal("found = true, want false")
	}
}

func TestLoadConfig_NoPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := DefaultConfig()
	if cfg.Store.DSN != want.Store.DSN {
		t.Errorf("Store.DSN = %q, want %q", cfg.Store.DSN, want.Store.DSN)
	}
	if cfg.Scheduler.PruneCron != want.Scheduler.PruneCron {
		t.Errorf("PruneCron = %q, want %q", cfg.Scheduler.PruneCron, want.Scheduler.PruneCron)
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	content := "store:\n  dsn: custom.db\n  retention_age: 1h\nscheduler:\n  poll_interval: 500ms\n  prune_cron: \"*/5 * * * *\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Store.DSN != "custom.db" {
		t.Errorf("Store.DSN = %q, want custom.db", cfg.Store.DSN)
	}
	if cfg.Store.RetentionAge != time.Hour {
		t.Errorf("RetentionAge = %v, want 1h", cfg.Store.RetentionAge)
	}
	if cfg.Scheduler.PollInterval != 500*time.Millisecond {
		t.Errorf("PollInterval = %v, want 500ms", cfg.Scheduler.PollInterval)
	}
	if cfg.Scheduler.PruneCron != "*/5 * * * *" {
		t.Errorf("PruneCron = %q, want */5 * * * *", cfg.Scheduler.PruneCron)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte("store:\n  dsn: file.db\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv("INVOKEAI_GRAPH_STORE_DSN", "env.db")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Store.DSN != "env.db" {
		t.Errorf("Store.DSN = %q, want env.db (env override)", cfg.Store.DSN)
	}
}
