// pkg/xdg/xdg.go

// Package xdg resolves per-user base directories so the CLI works without
// root while the agent keeps using the canonical system paths.
package xdg

import (
	"os"
	"path/filepath"

	cerr "github.com/cockroachdb/errors"
)

// AppID names the framework's directory under each XDG base.
const AppID = "mnemosyne"

const (
	DirPermOwnerOnly = 0o700
	DirPermStandard  = 0o755
	FilePermOwnerRW  = 0o600
	FilePermStandard = 0o644
)

func envOrDefault(envVar, fallback string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return fallback
}

// ConfigPath returns the user-level config location, e.g.
// ~/.config/mnemosyne/config.yaml.
func ConfigPath(file string) string {
	base := envOrDefault("XDG_CONFIG_HOME", filepath.Join(os.Getenv("HOME"), ".config"))
	return filepath.Join(base, AppID, file)
}

// DataPath returns the user-level data location, e.g.
// ~/.local/share/mnemosyne/keys.db.
func DataPath(file string) string {
	base := envOrDefault("XDG_DATA_HOME", filepath.Join(os.Getenv("HOME"), ".local", "share"))
	return filepath.Join(base, AppID, file)
}

// CachePath returns the user-level cache location, used for restic's
// cache directory when the CLI runs unprivileged.
func CachePath(file string) string {
	base := envOrDefault("XDG_CACHE_HOME", filepath.Join(os.Getenv("HOME"), ".cache"))
	return filepath.Join(base, AppID, file)
}

// StatePath returns the user-level state location, e.g.
// ~/.local/state/mnemosyne/mnemosyne.log.
func StatePath(file string) string {
	base := envOrDefault("XDG_STATE_HOME", filepath.Join(os.Getenv("HOME"), ".local", "state"))
	return filepath.Join(base, AppID, file)
}

// RuntimePath returns the per-session runtime location for sockets. The
// base has no fallback: XDG_RUNTIME_DIR is absent on systems without a
// session manager, and callers should fall back to the system socket.
func RuntimePath(file string) (string, error) {
	base := os.Getenv("XDG_RUNTIME_DIR")
	if base == "" {
		return "", cerr.New("XDG_RUNTIME_DIR not set")
	}
	return filepath.Join(base, AppID, file), nil
}

// EnsureDir creates the parent directory of path.
func EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), DirPermStandard)
}
