// Package config loads the registry configuration from the user's
// ~/.cincan/registry.yaml file, overridable through CINCAN_* environment
// variables. Missing files are not an error: defaults cover everything.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config carries every tunable of the registry.
type Config struct {
	Registry       string            `mapstructure:"registry"`         // remote registry: quay or dockerhub
	Namespace      string            `mapstructure:"namespace"`        // repository namespace, e.g. cincan
	CacheTTLHours  int               `mapstructure:"cache_ttl_hours"`  // upstream cache freshness window
	MaxWorkers     int               `mapstructure:"max_workers"`      // checker fan-out bound
	VersionVar     string            `mapstructure:"version_variable"` // env var carrying the tool version in images
	Tokens         map[string]string `mapstructure:"tokens"`           // provider API tokens, keyed by provider
	ToolsRepoURL   string            `mapstructure:"tools_repo"`       // git URL of the tool metadata repository
	ToolsRepoPath  string            `mapstructure:"tools_path"`       // local clone target, or existing checkout
	Branch         string            `mapstructure:"branch"`           // metadata repository branch
	MetaFilename   string            `mapstructure:"metadata_filename"`
	IndexFilename  string            `mapstructure:"index_filename"`
	CacheBackend   string            `mapstructure:"cache_backend"` // sqlite or postgres
	CachePath      string            `mapstructure:"cache_path"`    // sqlite database file
	CacheDSN       string            `mapstructure:"cache_dsn"`     // postgres connection string
	Port           int               `mapstructure:"port"`          // serve listen port
	AllowedOrigins []string          `mapstructure:"allowed_origins"`
}

// CacheTTL returns the freshness window as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// Token returns the API token configured for a provider, empty when none is.
func (c *Config) Token(provider string) string {
	return c.Tokens[strings.ToLower(provider)]
}

// Dir returns the per-user configuration and cache directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cincan"
	}
	return filepath.Join(home, ".cincan")
}

// Load reads registry.yaml from dir, falling back to defaults and CINCAN_*
// environment variables. An empty dir means the default user directory.
func Load(dir string) (*Config, error) {
	if dir == "" {
		dir = Dir()
	}

	v := viper.New()
	v.SetConfigName("registry")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetDefault("registry", "quay")
	v.SetDefault("namespace", "cincan")
	v.SetDefault("cache_ttl_hours", 24)
	v.SetDefault("max_workers", 30)
	v.SetDefault("version_variable", "TOOL_VERSION")
	v.SetDefault("tools_repo", "https://gitlab.com/CinCan/tools.git")
	v.SetDefault("tools_path", filepath.Join(dir, "tools"))
	v.SetDefault("branch", "master")
	v.SetDefault("metadata_filename", "meta.json")
	v.SetDefault("index_filename", "index.yml")
	v.SetDefault("cache_backend", "sqlite")
	v.SetDefault("cache_path", filepath.Join(dir, "versions.db"))
	v.SetDefault("cache_dsn", "")
	v.SetDefault("port", 5001)
	v.SetDefault("allowed_origins", []string{"*"})

	v.SetEnvPrefix("CINCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read configuration: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	normalized := make(map[string]string, len(cfg.Tokens))
	for provider, token := range cfg.Tokens {
		normalized[strings.ToLower(provider)] = token
	}
	cfg.Tokens = normalized
	return &cfg, nil
}
