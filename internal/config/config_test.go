package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "hardstop.db", cfg.Storage.SQLitePath)
	assert.Equal(t, filepath.Join("ops", "run_records"), cfg.Ops.RunRecordsDir)
	assert.Equal(t, 20, cfg.Fetch.TimeoutSeconds)
	assert.Equal(t, "hardstop/1.0", cfg.Fetch.UserAgent)
	assert.Equal(t, filepath.Join("config", "sources.yaml"), cfg.Paths.SourcesYAML)
}

func TestLoadExplicitFile(t *testing.T) {
	path := writeFile(t, "hardstop.config.yaml", `
storage:
  sqlite_path: /tmp/hardstop-test.db
fetch:
  timeout_seconds: 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/hardstop-test.db", cfg.Storage.SQLitePath)
	assert.Equal(t, 5, cfg.Fetch.TimeoutSeconds)
	// Untouched sections keep their defaults.
	assert.Equal(t, 50, cfg.Fetch.MaxItems)
	assert.Equal(t, filepath.Join("ops", "incidents"), cfg.Ops.IncidentsDir)
}

func TestLoadExplicitFileMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeFile(t, "hardstop.config.yaml", "storage: [not: a: mapping")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadNoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Fetch, cfg.Fetch)
}

func TestLoadSQLitePathEnvOverride(t *testing.T) {
	t.Setenv("HARDSTOP_SQLITE_PATH", "/tmp/env-override.db")
	path := writeFile(t, "hardstop.config.yaml", `
storage:
  sqlite_path: /tmp/from-file.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env-override.db", cfg.Storage.SQLitePath)
}
