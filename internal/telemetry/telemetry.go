// Package telemetry sets up OpenTelemetry tracing for the exchange
// core, grounded on repo/services/marketfeeds/common/otel's
// setup (a stdout trace exporter behind a TracerProvider, installed as
// the global provider so any package can call otel.Tracer(name)).
// Metrics stay on prometheus (internal/metrics); this package only
// wires distributed tracing spans across matching and settlement.
package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope every exchange-core package
// uses when starting a span.
const TracerName = "github.com/orbitcex/exchange-core"

// Setup installs a global TracerProvider backed by a pretty-printed
// stdout exporter and returns a shutdown func to flush on exit. A
// production deployment would swap the stdouttrace exporter for an
// OTLP one; the wiring point (this function) doesn't change.
func Setup(ctx context.Context) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	provider := trace.NewTracerProvider(trace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)

	return func(shutdownCtx context.Context) error {
		return errors.Join(provider.Shutdown(shutdownCtx))
	}, nil
}

// Tracer returns the package-scoped tracer every exchange-core
// component should use to start spans.
func Tracer() oteltrace.Tracer {
	return otel.Tracer(TracerName)
}
