// Package tracing sets up OpenTelemetry for the monitor loop.
package tracing

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/dj-oyu/nao-firewatch/internal/logger"
)

// TracerName is the instrumentation scope used by firewatch spans
const TracerName = "github.com/dj-oyu/nao-firewatch"

// Init installs a global tracer provider exporting to w (stdout when nil)
// and returns its shutdown function.
func Init(serviceName string, w io.Writer) (func(context.Context) error, error) {
	opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
	if w != nil {
		opts = append(opts, stdouttrace.WithWriter(w))
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)

	logger.Info("Tracing", "OpenTelemetry initialized (service %s)", serviceName)

	return tp.Shutdown, nil
}

// Tracer returns the firewatch tracer from the global provider. It is a
// no-op until Init is called.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
