package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yang-jaeyoung/flowledger/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.SnapshotEvery)
	assert.Equal(t, 5*time.Second, cfg.AppendTimeout)
	assert.False(t, cfg.Fsync)
}

func TestLoadFromYAML(t *testing.T) {
	root := t.TempDir()
	yaml := "snapshot_every: 10\nappend_timeout: 250ms\nfsync: true\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, config.ConfigFileName), []byte(yaml), 0o644))

	cfg, err := config.Load(root)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.SnapshotEvery)
	assert.Equal(t, 250*time.Millisecond, cfg.AppendTimeout)
	assert.True(t, cfg.Fsync)
}

func TestLoadPartialYAMLKeepsDefaults(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, config.ConfigFileName), []byte("fsync: true\n"), 0o644))

	cfg, err := config.Load(root)
	require.NoError(t, err)
	assert.True(t, cfg.Fsync)
	assert.Equal(t, 100, cfg.SnapshotEvery)
	assert.Equal(t, 5*time.Second, cfg.AppendTimeout)
}

func TestEnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, config.ConfigFileName), []byte("snapshot_every: 10\n"), 0o644))
	t.Setenv("FLOWLEDGER_SNAPSHOT_EVERY", "3")
	t.Setenv("FLOWLEDGER_APPEND_TIMEOUT", "1s")

	cfg, err := config.Load(root)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.SnapshotEvery)
	assert.Equal(t, time.Second, cfg.AppendTimeout)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Run("BadDuration", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, config.ConfigFileName), []byte("append_timeout: soon\n"), 0o644))
		_, err := config.Load(root)
		assert.Error(t, err)
	})

	t.Run("NegativeSnapshotEvery", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, config.ConfigFileName), []byte("snapshot_every: -1\n"), 0o644))
		_, err := config.Load(root)
		assert.Error(t, err)
	})

	t.Run("BadYAML", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, config.ConfigFileName), []byte(": {"), 0o644))
		_, err := config.Load(root)
		assert.Error(t, err)
	})
}
