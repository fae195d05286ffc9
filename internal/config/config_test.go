package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	content := `
pipeline:
  input_dir: /data/captures
  output_dir: /data/out
  num_workers: 4
  file_timeout: 30s
  split_by_dst: true
log:
  dir: /data/logs
  max_size_bytes: 1048576
  max_backups: 3
clickhouse:
  enabled: true
  host: ch.lab.internal
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/captures", cfg.Pipeline.InputDir)
	assert.Equal(t, 4, cfg.Pipeline.NumWorkers)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.Timeout())
	assert.True(t, cfg.Pipeline.SplitByDst)
	assert.Equal(t, int64(1048576), cfg.Log.MaxSizeBytes)
	assert.Equal(t, 3, cfg.Log.MaxBackups)
	assert.True(t, cfg.ClickHouse.Enabled)
	assert.Equal(t, 9000, cfg.ClickHouse.Port)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Greater(t, cfg.Pipeline.NumWorkers, 0)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.Timeout())
	assert.Equal(t, int64(10<<20), cfg.Log.MaxSizeBytes)
	assert.Equal(t, 2*time.Second, cfg.Watch.Settle())
	assert.False(t, cfg.Pipeline.SplitByDst)
}

func TestLoadConfig_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  file_timeout: soon\n"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
