package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmill/taskmill/pkg/core"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "taskmill.db", cfg.Storage.Path)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9090"
logLevel: debug
storage:
  driver: file
  path: /var/lib/taskmill
engine:
  processInterval: 500ms
  maxConcurrentTasks: 4
  defaultRetryDelay: 2m
  defaultPriority: high
  staleTaskTimeout: 15m
  unsafeTypePrefixes: ["browser."]
  retention: 168h
`), 0o600))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "file", cfg.Storage.Driver)

	ec := cfg.engineConfig()
	assert.Equal(t, 500*time.Millisecond, ec.ProcessInterval)
	assert.Equal(t, 4, ec.MaxConcurrentTasks)
	assert.Equal(t, 2*time.Minute, ec.DefaultRetryDelay)
	assert.Equal(t, core.PriorityHigh, ec.DefaultPriority)
	assert.Equal(t, 15*time.Minute, ec.StaleTaskTimeout)
	assert.Equal(t, []string{"browser."}, ec.UnsafeTypePrefixes)
	assert.Equal(t, 7*24*time.Hour, ec.Retention)
}

func TestLoadConfig_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  processInterval: soon\n"), 0o600))

	_, err := loadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoadConfig_UnknownDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: postgres\n"), 0o600))

	_, err := loadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage driver")
}
