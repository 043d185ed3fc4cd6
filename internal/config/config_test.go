package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "branchchat.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr = ":9090"

[log]
level = "debug"

[chat]
context_tokens = 8000
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 8000, cfg.Chat.ContextTokens)
	// Unset keys keep their defaults.
	assert.Equal(t, "branchchat.db", cfg.DBPath)
	assert.Equal(t, 2000, cfg.Chat.MaxResponseTokens)
}

func TestLoadInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr = [broken"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "branchchat.toml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr = \":8080\"\n"), 0o644))

	reloaded := make(chan *Config, 1)
	w, err := Watch(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("listen_addr = \":9191\"\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, ":9191", cfg.ListenAddr)
	case <-time.After(3 * time.Second):
		t.Fatal("config change was not observed")
	}
}

func TestWatchIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "branchchat.toml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr = \":8080\"\n"), 0o644))

	reloaded := make(chan struct{}, 1)
	w, err := Watch(path, func(cfg *Config) {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644))

	select {
	case <-reloaded:
		t.Fatal("unrelated file triggered a reload")
	case <-time.After(300 * time.Millisecond):
	}
}
