// pkg/logger/logger.go

// Package logger builds the process-wide zap logger: human console output
// plus a JSON file sink when a writable location exists, console only
// when not. The agent and the CLI share it through zap's globals.
package logger

import (
	"os"
	"sync"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log *zap.Logger
)

// L returns the process logger, installing the console fallback on first
// use so failures before Initialize still land somewhere.
func L() *zap.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l != nil {
		return l
	}
	return InitFallback()
}

// SetLogger swaps the process logger and both global registries. The
// otelzap global must be replaced too: it captures zap's global at
// package init, so otelzap.Ctx would otherwise keep writing to the
// pre-initialization nop logger.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	log = l
	mu.Unlock()
	zap.ReplaceGlobals(l)
	otelzap.ReplaceGlobals(otelzap.New(l))
}

// Initialize builds the tee logger: console on stdout plus JSON at the
// first writable platform log path. An empty level reads LOG_LEVEL from
// the environment.
func Initialize(level string) *zap.Logger {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	lvl := ParseLogLevel(level)

	path := ResolveLogPath()
	if path == "" {
		l := NewFallbackLogger(lvl)
		SetLogger(l)
		l.Warn("No writable log path found, logging to console only")
		return l
	}

	writer, err := LogFileWriter(path)
	if err != nil {
		l := NewFallbackLogger(lvl)
		SetLogger(l)
		l.Warn("Could not open log file, logging to console only",
			zap.String("path", path),
			zap.Error(err))
		return l
	}

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(ConsoleEncoderConfig()), zapcore.Lock(os.Stdout), lvl),
		zapcore.NewCore(zapcore.NewJSONEncoder(FileEncoderConfig()), writer, lvl),
	)
	l := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	SetLogger(l)

	l.Debug("Logger initialized",
		zap.String("log_level", lvl.String()),
		zap.String("log_path", path))
	return l
}

// Sync flushes buffered entries before exit. Console sinks return ENOTTY
// on some platforms, which is not worth surfacing.
func Sync() {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l != nil {
		_ = l.Sync()
	}
}
