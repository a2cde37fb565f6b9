package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFileOrEnv(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(cwd)

	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "./cache", cfg.CacheRoot)
	require.Len(t, cfg.Pools, 1)
	require.Equal(t, "compute", cfg.Pools[0].Name)
}

func TestLoadReadsExplicitYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
cache_root: /var/lib/rasterflow
pools:
  - name: compute
    kind: thread
    workers: 8
  - name: io
    kind: process
    workers: 2
`), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "/var/lib/rasterflow", cfg.CacheRoot)
	require.Len(t, cfg.Pools, 2)
	require.Equal(t, 8, cfg.Pools[0].Workers)
	require.Equal(t, "process", cfg.Pools[1].Kind)
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(cwd)

	t.Setenv("RASTERFLOW_LOG_LEVEL", "warn")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.LogLevel)
}
