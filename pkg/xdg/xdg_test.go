// pkg/xdg/xdg_test.go

package xdg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathsHonorXDGVariables(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(base, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(base, "data"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(base, "cache"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(base, "state"))

	assert.Equal(t, filepath.Join(base, "config", AppID, "config.yaml"), ConfigPath("config.yaml"))
	assert.Equal(t, filepath.Join(base, "data", AppID, "keys.db"), DataPath("keys.db"))
	assert.Equal(t, filepath.Join(base, "cache", AppID, "restic"), CachePath("restic"))
	assert.Equal(t, filepath.Join(base, "state", AppID, "mnemosyne.log"), StatePath("mnemosyne.log"))
}

func TestPathsFallBackToHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_STATE_HOME", "")

	assert.Equal(t, filepath.Join(home, ".config", AppID, "config.yaml"), ConfigPath("config.yaml"))
	assert.Equal(t, filepath.Join(home, ".local", "state", AppID, "mnemosyne.log"), StatePath("mnemosyne.log"))
}

func TestRuntimePath(t *testing.T) {
	t.Run("requires XDG_RUNTIME_DIR", func(t *testing.T) {
		t.Setenv("XDG_RUNTIME_DIR", "")
		_, err := RuntimePath("agent.sock")
		require.Error(t, err)
	})

	t.Run("joins under the app directory", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("XDG_RUNTIME_DIR", dir)
		path, err := RuntimePath("agent.sock")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, AppID, "agent.sock"), path)
	})
}

func TestEnsureDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "file.txt")
	require.NoError(t, EnsureDir(path))

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
