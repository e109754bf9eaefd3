package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "quay", cfg.Registry)
	assert.Equal(t, "cincan", cfg.Namespace)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL())
	assert.Equal(t, 30, cfg.MaxWorkers)
	assert.Equal(t, "TOOL_VERSION", cfg.VersionVar)
	assert.Equal(t, "master", cfg.Branch)
	assert.Equal(t, "meta.json", cfg.MetaFilename)
	assert.Equal(t, "index.yml", cfg.IndexFilename)
	assert.Equal(t, "sqlite", cfg.CacheBackend)
	assert.Equal(t, 5001, cfg.Port)
	assert.Empty(t, cfg.Token("github"))
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
registry: dockerhub
cache_ttl_hours: 6
max_workers: 8
tokens:
  GitHub: abc123
  gitlab: def456
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "registry.yaml"), content, 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "dockerhub", cfg.Registry)
	assert.Equal(t, 6*time.Hour, cfg.CacheTTL())
	assert.Equal(t, 8, cfg.MaxWorkers)
	assert.Equal(t, "abc123", cfg.Token("github"), "token keys are case-insensitive")
	assert.Equal(t, "def456", cfg.Token("gitlab"))
	// File values do not disturb defaults it does not mention.
	assert.Equal(t, "cincan", cfg.Namespace)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CINCAN_REGISTRY", "dockerhub")
	t.Setenv("CINCAN_MAX_WORKERS", "4")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "dockerhub", cfg.Registry)
	assert.Equal(t, 4, cfg.MaxWorkers)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "registry.yaml"),
		[]byte("registry: [unclosed"), 0o600))

	_, err := Load(dir)
	require.Error(t, err)
}
