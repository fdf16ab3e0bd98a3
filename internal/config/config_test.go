package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, NewConfig(), cfg)
	assert.Equal(t, 168, cfg.Sqlite.RetentionHours)
}

func TestLoadRetentionFromEnv(t *testing.T) {
	t.Setenv("MOCKDRIVER_SQLITE_RETENTION_HOURS", "24")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 24, cfg.Sqlite.RetentionHours)

	t.Setenv("MOCKDRIVER_SQLITE_RETENTION_HOURS", "-1")
	_, err = Load("")
	assert.ErrorContains(t, err, "negative history retention")
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "engine:\n  mode: blocking\n  cache_ttl_sec: 30\ndevtools:\n  url: http://localhost:9333\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("MOCKDRIVER_ENGINE_ENCODING", "keyvalue")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "blocking", cfg.Engine.Mode)
	assert.Equal(t, 30, cfg.Engine.CacheTTLSec)
	assert.Equal(t, 60, cfg.Engine.SweepEverySec)
	assert.Equal(t, "http://localhost:9333", cfg.DevTools.URL)
	assert.Equal(t, "keyvalue", cfg.Engine.Encoding)
}

func TestLoadRejectsUnknownEnums(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  mode: hybrid\n"), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "unknown engine mode")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
