// Package daemon provides the long-running process shell around the
// core engine: settings discovery/loading and a scheduler that drives
// pending execution states and prunes completed ones. Grounded on the
// teacher's daemon/config.go discovery pattern and server/cron.go +
// server/workflow_scheduler.go poll-loop shape, re-targeted from tool
// declarations to engine-level settings.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	projectConfigName = "invokeai-graph.yaml"
	homeConfigName    = "config.yaml"
)

// Config is the declarative startup configuration for the daemon:
// where sessions live, how often pending ones are advanced, and how
// often completed ones are pruned.
type Config struct {
	Store struct {
		DSN          string        `yaml:"dsn"`
		RetentionAge time.Duration `yaml:"retention_age"`
	} `yaml:"store"`

	Queue struct {
		Buffer int `yaml:"buffer"`
	} `yaml:"queue"`

	Scheduler struct {
		PollInterval time.Duration `yaml:"poll_interval"`
		PruneCron    string        `yaml:"prune_cron"`
	} `yaml:"scheduler"`
}

// DefaultConfig returns settings usable without any config file present.
func DefaultConfig() Config {
	var cfg Config
	cfg.Store.DSN = "invokeai-graph.db"
	cfg.Store.RetentionAge = 24 * time.Hour
	cfg.Queue.Buffer = 64
	cfg.Scheduler.PollInterval = 2 * time.Second
	cfg.Scheduler.PruneCron = "0 * * * *"
	return cfg
}

// DiscoverConfigPath resolves the config file location with first-match
// semantics: an explicit path, else ./invokeai-graph.yaml in the
// current directory, else ~/.invokeai-graph/config.yaml.
func DiscoverConfigPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("daemon: resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("daemon: resolve user home: %w", err)
	}
	return DiscoverConfigPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverConfigPathFrom is a testable variant of DiscoverConfigPath.
func DiscoverConfigPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, ".invokeai-graph", homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("daemon: config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("daemon: checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// LoadConfig reads and parses a config file, applying env overrides,
// starting from DefaultConfig for any field the file omits.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		applyEnvOverrides(&cfg)
		return cfg, nil
	}

	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("daemon: reading config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("daemon: parsing config %q: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("INVOKEAI_GRAPH_STORE_DSN")); v != "" {
		cfg.Store.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("INVOKEAI_GRAPH_PRUNE_CRON")); v != "" {
		cfg.Scheduler.PruneCron = v
	}
	if v := strings.TrimSpace(os.Getenv("INVOKEAI_GRAPH_POLL_INTERVAL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.PollInterval = d
		}
	}
}
