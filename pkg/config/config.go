// Package config loads agentcheck's YAML configuration file and .env
// secrets, merging them over built-in defaults. Follows an
// Initialize(ctx, configDir) -> Stats() pattern, carrying agentcheck's
// own knobs: discovery root, history directory, worker pool size, server
// bind address, and the companion-process commands behind pkg/agentio.
package config

import (
	"context"
	"fmt"
	"log/slog"
)

// Config is the fully resolved, ready-to-use configuration for one
// agentcheck process.
type Config struct {
	configDir string

	// ProjectRoot is the directory pkg/discovery.Scanner walks for
	// test_*.py files (§4.A).
	ProjectRoot string `yaml:"project_root"`

	// ReloadExcludes are doublestar glob patterns (relative to
	// ProjectRoot) skipped during discovery and exempted from reload
	// invalidation (§4.A "Excludes paths enumerated in the
	// reload-exclusion list").
	ReloadExcludes []string `yaml:"reload_excludes"`

	// DataDir is the root directory the history store writes under
	// (§4.B; the store itself nests a "history" subdirectory inside it).
	DataDir string `yaml:"data_dir"`

	Queue    *QueueConfig  `yaml:"queue"`
	Server   *ServerConfig `yaml:"server"`
	Agent    *AgentConfig  `yaml:"agent"`
	Defaults *Defaults     `yaml:"defaults"`
}

// Stats summarizes a Config for a single structured log line at startup.
type Stats struct {
	ProjectRoot    string
	WorkerCount    int
	ReloadExcludes int
	ServerAddr     string
}

// Stats returns a snapshot suitable for startup logging.
func (c *Config) Stats() Stats {
	return Stats{
		ProjectRoot:    c.ProjectRoot,
		WorkerCount:    c.Queue.WorkerCount,
		ReloadExcludes: len(c.ReloadExcludes),
		ServerAddr:     fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port),
	}
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load agentcheck.yaml from configDir (missing file is not fatal —
//     built-in defaults still produce a usable Config)
//  2. Expand {{.VAR}} environment references
//  3. Parse YAML into a loadable struct
//  4. Merge user-defined values over built-in defaults
//  5. Apply a CLI-supplied project root override, if any
//  6. Validate the merged result
//  7. Return Config ready for use
//
// projectRootOverride, when non-empty, wins over both agentcheck.yaml's
// project_root and its built-in default — it is how cmd/agentcheck's
// --project-root flag takes precedence over the file.
func Initialize(ctx context.Context, configDir, projectRootOverride string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if projectRootOverride != "" {
		cfg.ProjectRoot = projectRootOverride
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"project_root", stats.ProjectRoot,
		"worker_count", stats.WorkerCount,
		"reload_excludes", stats.ReloadExcludes,
		"server_addr", stats.ServerAddr)

	return cfg, nil
}

// validate performs basic sanity checks on the loaded configuration.
func validate(cfg *Config) error {
	if cfg.ProjectRoot == "" {
		return ErrProjectRootRequired
	}
	return nil
}
