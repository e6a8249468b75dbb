// pkg/logger/paths.go

package logger

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/xdg"
	cerr "github.com/cockroachdb/errors"
	"go.uber.org/zap/zapcore"
)

const logFileName = "mnemosyne.log"

// PlatformLogPaths returns candidate log locations in priority order: the
// system path when running as root, the user's XDG state directory, the
// working directory for development, /tmp as a last resort.
func PlatformLogPaths() []string {
	switch runtime.GOOS {
	case "linux":
		return []string{
			filepath.Join("/var/log", xdg.AppID, logFileName),
			xdg.StatePath(logFileName),
			logFileName,
			filepath.Join(os.TempDir(), xdg.AppID, logFileName),
		}
	case "darwin":
		return []string{
			xdg.StatePath(logFileName),
			logFileName,
			filepath.Join(os.TempDir(), xdg.AppID, logFileName),
		}
	default:
		return []string{logFileName}
	}
}

// EnsureLogPermissions creates the log directory owner-only and tightens
// the file to 0600. Log lines carry repository URLs and key identifiers,
// so they must not be world-readable.
func EnsureLogPermissions(path string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, xdg.DirPermOwnerOnly); err != nil {
			return err
		}
	} else if filepath.Base(dir) == xdg.AppID {
		// Only tighten directories the framework owns; the working
		// directory keeps whatever mode it has.
		if err := os.Chmod(dir, xdg.DirPermOwnerOnly); err != nil {
			return err
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := file.Close(); err != nil {
			return err
		}
	}
	return os.Chmod(path, xdg.FilePermOwnerRW)
}

// ResolveLogPath returns the first candidate that accepts an append-mode
// open, creating directories as needed. Empty means console only.
func ResolveLogPath() string {
	for _, path := range PlatformLogPaths() {
		if err := EnsureLogPermissions(path); err != nil {
			continue
		}
		file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, xdg.FilePermOwnerRW)
		if err != nil {
			continue
		}
		_ = file.Close()
		return path
	}
	return ""
}

// LogFileWriter opens path for appending as a zap sink.
func LogFileWriter(path string) (zapcore.WriteSyncer, error) {
	if err := EnsureLogPermissions(path); err != nil {
		return nil, cerr.Wrapf(err, "log permissions for %s", path)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, xdg.FilePermOwnerRW)
	if err != nil {
		return nil, cerr.Wrapf(err, "open log file %s", path)
	}
	return zapcore.AddSync(file), nil
}
