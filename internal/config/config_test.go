package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysFileOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	data := []byte("resource: keybindings\nremoteURL: https://sync.example.com/api\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), data, 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "keybindings", cfg.Resource)
	assert.Equal(t, "https://sync.example.com/api", cfg.RemoteURL)
	assert.Equal(t, Default().SyncHome, cfg.SyncHome, "unset fields keep the default")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte("not: [valid"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}
