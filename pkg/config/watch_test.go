// pkg/config/watch_test.go

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const watchConfigA = `
repositories:
  local:
    name: local
    backend: local
    url: /srv/backups-a
`

const watchConfigB = `
repositories:
  local:
    name: local
    backend: local
    url: /srv/backups-b
`

const watchConfigBroken = `
repositories:
  local:
    name: local
    backend: local
    url: /srv/backups
profiles:
  broken:
    name: broken
    repository: nonexistent
    paths:
      - /etc
`

// startWatch runs Watch in the background and returns the channel apply
// feeds plus a stop function that waits for the watcher to exit.
func startWatch(t *testing.T, path string) (<-chan *Config, func()) {
	t.Helper()

	applied := make(chan *Config, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := Watch(ctx, path, zaptest.NewLogger(t), func(c *Config) {
			applied <- c
		})
		assert.NoError(t, err)
	}()

	return applied, func() {
		cancel()
		<-done
	}
}

// awaitReload rewrites the file until the watcher reports a reload. The
// first writes may land before the watcher is registered, so writing once
// and waiting would hang.
func awaitReload(t *testing.T, path, content string, applied <-chan *Config) *Config {
	t.Helper()

	deadline := time.After(10 * time.Second)
	for {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		select {
		case cfg := <-applied:
			return cfg
		case <-time.After(300 * time.Millisecond):
		case <-deadline:
			t.Fatal("configuration change was never applied")
		}
	}
}

// settle waits out any debounce still in flight from awaitReload's extra
// writes and empties the channel, so later emptiness checks only see new
// reloads.
func settle(applied <-chan *Config) {
	time.Sleep(3 * debounceWindow)
	for {
		select {
		case <-applied:
		default:
			return
		}
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(watchConfigA), 0o600))

	applied, stop := startWatch(t, path)
	defer stop()

	cfg := awaitReload(t, path, watchConfigB, applied)
	assert.Equal(t, "/srv/backups-b", cfg.Repositories["local"].URL)
}

func TestWatchSkipsInvalidEdits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(watchConfigA), 0o600))

	applied, stop := startWatch(t, path)
	defer stop()

	// First reload proves the watcher is live.
	awaitReload(t, path, watchConfigB, applied)
	settle(applied)

	// A broken edit must never reach apply.
	require.NoError(t, os.WriteFile(path, []byte(watchConfigBroken), 0o600))
	time.Sleep(3 * debounceWindow)
	select {
	case cfg := <-applied:
		t.Fatalf("invalid configuration was applied: %+v", cfg)
	default:
	}

	// The watcher keeps going afterwards.
	cfg := awaitReload(t, path, watchConfigA, applied)
	assert.Equal(t, "/srv/backups-a", cfg.Repositories["local"].URL)
}

func TestWatchIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(watchConfigA), 0o600))

	applied, stop := startWatch(t, path)
	defer stop()

	awaitReload(t, path, watchConfigB, applied)
	settle(applied)

	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(other, []byte("unrelated"), 0o600))
	time.Sleep(3 * debounceWindow)
	select {
	case <-applied:
		t.Fatal("unrelated file change triggered a reload")
	default:
	}
}

func TestWatchStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(watchConfigA), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, zaptest.NewLogger(t), func(*Config) {})
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}
