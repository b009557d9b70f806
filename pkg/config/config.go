// Package config loads identity-engine configuration.
package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for identity-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Search configuration
	Search SearchConfig `yaml:"search"`

	// Blocklist configuration
	Blocklist BlocklistConfig `yaml:"blocklist"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"identity"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"identity_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// SearchConfig holds ranked-search tuning.
type SearchConfig struct {
	// RankingPolicyPath points at an optional YAML ranking policy. When empty
	// the built-in default policy is used.
	RankingPolicyPath string `yaml:"ranking_policy_path" env:"RANKING_POLICY_PATH" env-default:""`
	// DefaultLimit is the page size when a query does not specify one.
	DefaultLimit int `yaml:"default_limit" env:"SEARCH_DEFAULT_LIMIT" env-default:"25"`
	// MaxLimit caps the page size a caller may request.
	MaxLimit int `yaml:"max_limit" env:"SEARCH_MAX_LIMIT" env-default:"100"`
}

// BlocklistConfig holds blocklist guard settings.
type BlocklistConfig struct {
	// RulesPath points at an optional YAML rules file loaded at startup so
	// operators can ship new organization-wide rules without a deployment.
	RulesPath string `yaml:"rules_path" env:"BLOCKLIST_RULES_PATH" env-default:""`
	// CacheTTLSeconds is how long the guard caches the rule set.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds" env:"BLOCKLIST_CACHE_TTL_SECONDS" env-default:"60"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set on the
// returned Config. Missing config.yaml is fine; env vars and defaults apply.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	return cfg, nil
}

// URL returns a PostgreSQL connection URL.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}
