// pkg/mnemo_io/context.go

// Package mnemo_io carries the per-command runtime context: a traced
// context, a scoped logger, and the interactive input helpers commands
// need.
package mnemo_io

import (
	"context"
	"runtime"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/logger"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/secerr"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RuntimeContext carries everything one command run needs.
type RuntimeContext struct {
	Ctx        context.Context
	Log        *zap.Logger
	Span       trace.Span
	Timestamp  time.Time
	Command    string
	Component  string
	Attributes map[string]string
}

// NewContext sets up tracing and a scoped logger for one command run.
// cmdName is the cobra command path ("mnemosyne backup run"); its first
// subcommand segment names the logger.
func NewContext(ctx context.Context, cmdName string) *RuntimeContext {
	ctx, span := telemetry.Start(ctx, cmdName)
	traceID := span.SpanContext().TraceID().String()

	comp := componentFromCommand(cmdName)
	log := logger.L().With(
		zap.String("command", cmdName),
		zap.String("trace_id", traceID),
	).Named(comp)

	return &RuntimeContext{
		Ctx:        ctx,
		Log:        log,
		Span:       span,
		Timestamp:  time.Now(),
		Command:    cmdName,
		Component:  comp,
		Attributes: make(map[string]string),
	}
}

// HandlePanic converts a recovered panic into an error so it never
// crosses the command boundary.
func (rc *RuntimeContext) HandlePanic(errPtr *error) {
	if r := recover(); r != nil {
		*errPtr = cerr.AssertionFailedf("panic: %v", r)
		rc.Log.Error("Panic recovered", zap.Any("panic", r))
	}
}

// End records the outcome on the span, logs it, and flushes. Call it
// deferred with a pointer to the command's named error return.
func (rc *RuntimeContext) End(errPtr *error) {
	duration := time.Since(rc.Timestamp)
	err := *errPtr
	success := err == nil

	if success {
		rc.Log.Info("Command completed", zap.Duration("duration", duration))
	} else {
		rc.Log.Error("Command failed",
			zap.Duration("duration", duration),
			zap.Error(err))
	}

	rc.Span.SetAttributes(
		attribute.Bool("success", success),
		attribute.Int64("duration_ms", duration.Milliseconds()),
		attribute.String("os", runtime.GOOS),
		attribute.String("error_kind", classifyError(err)),
	)
	rc.Span.End()
	logger.Sync()
}

// classifyError distinguishes taxonomy errors, which carry their own kind,
// from everything else.
func classifyError(err error) string {
	if err == nil {
		return ""
	}
	var se *secerr.Error
	if cerr.As(err, &se) {
		return se.Kind.String()
	}
	return "system"
}

func componentFromCommand(cmdName string) string {
	fields := strings.Fields(cmdName)
	switch {
	case len(fields) >= 2:
		return fields[1]
	case len(fields) == 1:
		return fields[0]
	default:
		return "mnemosyne"
	}
}
