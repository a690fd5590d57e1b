package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Server.HTTPPort)
		assert.Equal(t, 16, cfg.Engine.Workers)
		assert.Equal(t, 3, cfg.Engine.Retry.MaxAttempts)
		assert.Equal(t, time.Second, cfg.Engine.Retry.BaseDelay)
		assert.Equal(t, 2.0, cfg.Engine.Retry.Factor)
		assert.Equal(t, 30*time.Second, cfg.Engine.Retry.MaxDelay)
		assert.Equal(t, "grpc", cfg.Tracing.Protocol)
		assert.True(t, cfg.Tracing.Insecure)
		assert.Equal(t, int64(1_000_000), cfg.Quota.DefaultLimit)
		assert.Equal(t, "dir", cfg.Workflows.Source)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("WORKFLOW_ENGINE_WORKERS", "4")
		t.Setenv("WORKFLOW_LOG_LEVEL", "debug")
		t.Setenv("WORKFLOW_REDIS_ADDR", "localhost:6380")

		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, 4, cfg.Engine.Workers)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "localhost:6380", cfg.Redis.Addr)
		assert.Same(t, cfg, Get())
	})

	t.Run("config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
server:
  http_port: 9999
engine:
  strict_branches: true
  retry:
    max_attempts: 5
    base_delay: 250ms
storage:
  type: local
  local:
    path: /var/lib/runs
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, 9999, cfg.Server.HTTPPort)
		assert.True(t, cfg.Engine.StrictBranches)
		assert.Equal(t, 5, cfg.Engine.Retry.MaxAttempts)
		assert.Equal(t, 250*time.Millisecond, cfg.Engine.Retry.BaseDelay)
		assert.Equal(t, "local", cfg.Storage.Type)
		assert.Equal(t, "/var/lib/runs", cfg.Storage.Local.Path)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid workers", func(t *testing.T) {
		t.Setenv("WORKFLOW_ENGINE_WORKERS", "0")
		_, err := Load("")
		assert.Error(t, err)
	})
}
