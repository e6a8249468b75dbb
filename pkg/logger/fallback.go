// pkg/logger/fallback.go

package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewFallbackLogger builds a console-only logger for when no file sink is
// available: permission-denied paths, read-only filesystems, tests.
func NewFallbackLogger(level zapcore.Level) *zap.Logger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(ConsoleEncoderConfig()),
		zapcore.Lock(os.Stdout),
		level,
	)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

// InitFallback installs the console fallback as the process logger.
func InitFallback() *zap.Logger {
	l := NewFallbackLogger(ParseLogLevel(os.Getenv("LOG_LEVEL")))
	SetLogger(l)
	return l
}
