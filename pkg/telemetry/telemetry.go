// pkg/telemetry/telemetry.go

// Package telemetry wires OpenTelemetry tracing. Spans export as JSONL
// to a local file when enabled; when disabled (the default) every span
// is a no-op. Start is safe to call before Init.
package telemetry

import (
	"context"
	"os"
	"path/filepath"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/xdg"
	cerr "github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// tracer defaults to a noop so spans started before Init never panic.
var tracer trace.Tracer = noop.NewTracerProvider().Tracer("mnemosyne")

var provider *sdktrace.TracerProvider

// Init configures OpenTelemetry; call this early in main().
func Init(service string, enabled bool) error {
	if !enabled {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		tracer = tp.Tracer(service)
		return nil
	}

	var telemetryFile string
	for _, dir := range dataDirs() {
		if err := os.MkdirAll(dir, 0755); err == nil {
			telemetryFile = filepath.Join(dir, dataFileName)
			break
		}
	}
	if telemetryFile == "" {
		return cerr.New("no writable telemetry directory")
	}
	file, err := os.OpenFile(telemetryFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return cerr.Wrap(err, "open telemetry file")
	}

	exp, err := stdouttrace.New(
		stdouttrace.WithWriter(file),
		stdouttrace.WithoutTimestamps(), // spans already carry timestamps
	)
	if err != nil {
		file.Close()
		return cerr.Wrap(err, "create file exporter")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(
			sdkresource.NewWithAttributes(
				semconv.SchemaURL,
				attribute.String("service.name", service),
				attribute.String("host.name", hostname()),
			),
		),
	)

	otel.SetTracerProvider(tp)
	tracer = tp.Tracer(service)
	provider = tp
	return nil
}

// Start a telemetry span with optional attributes.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Shutdown flushes buffered spans. Call on process exit when telemetry
// was enabled; a nop otherwise.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	return provider.Shutdown(ctx)
}

const dataFileName = "telemetry.jsonl"

// dataDirs lists span directories in preference order. Init writes to
// the first it can create; unprivileged runs land in the home fallback.
func dataDirs() []string {
	return []string{
		"/var/log/mnemosyne",
		filepath.Join(os.Getenv("HOME"), ".mnemosyne", "telemetry"),
	}
}

// DataFile returns the span file currently in use, or the preferred
// location when none exists yet.
func DataFile() string {
	dirs := dataDirs()
	for _, dir := range dirs {
		p := filepath.Join(dir, dataFileName)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(dirs[0], dataFileName)
}

// TogglePath is the opt-in marker file, managed by the self command.
func TogglePath() string {
	return xdg.ConfigPath("telemetry_on")
}

// IsEnabled reports whether the user opted in. Collection stays local
// either way; the marker only decides whether spans are written at all.
func IsEnabled() bool {
	_, err := os.Stat(TogglePath())
	return err == nil
}

func hostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}
