package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/btnflow/btnflow/internal/plugins"
)

// Config holds all btnflow configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath       string              `json:"db_path"`
	LogLevel     string              `json:"log_level"`
	LogFormat    string              `json:"log_format"` // text | json
	Parallelism  int                 `json:"parallelism"`
	NodeTimeout  string              `json:"node_timeout"` // Go duration, "" disables
	HTTPTimeout  string              `json:"http_timeout"`
	HTTPRetries  int                 `json:"http_retries"`
	ReloadCron   string              `json:"reload_cron"` // cron spec, "" disables
	MCPProviders []plugins.MCPConfig `json:"mcp_providers"`
}

func defaultConfig() Config {
	return Config{
		DBPath:      filepath.Join(btnflowDir(), "btnflow.db"),
		LogLevel:    "info",
		LogFormat:   "text",
		Parallelism: 4,
		HTTPTimeout: "10s",
		HTTPRetries: 0,
	}
}

func btnflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".btnflow"
	}
	return filepath.Join(home, ".btnflow")
}

func settingsPath() string {
	return filepath.Join(btnflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("BTNFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("BTNFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BTNFLOW_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("BTNFLOW_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Parallelism = n
		}
	}
	if v := os.Getenv("BTNFLOW_NODE_TIMEOUT"); v != "" {
		cfg.NodeTimeout = v
	}
	if v := os.Getenv("BTNFLOW_HTTP_TIMEOUT"); v != "" {
		cfg.HTTPTimeout = v
	}
	if v := os.Getenv("BTNFLOW_HTTP_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTPRetries = n
		}
	}
	if v := os.Getenv("BTNFLOW_RELOAD_CRON"); v != "" {
		cfg.ReloadCron = v
	}

	return cfg
}

func (c Config) nodeTimeout() time.Duration {
	d, err := time.ParseDuration(c.NodeTimeout)
	if err != nil {
		return 0
	}
	return d
}

func (c Config) httpTimeout() time.Duration {
	d, err := time.ParseDuration(c.HTTPTimeout)
	if err != nil {
		return 0
	}
	return d
}
