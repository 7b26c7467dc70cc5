// Package trace holds the tracer used to instrument graph execution.
package trace

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentName is the instrumentation scope reported on spans.
const InstrumentName = "github.com/wsdl-king/DataAgent"

// TracerProvider is the tracer provider used by the engine. It defaults to
// a no-op provider so tracing stays free until an application installs one.
var TracerProvider trace.TracerProvider = noop.NewTracerProvider()

// Tracer is the tracer instance used by the engine.
var Tracer trace.Tracer = TracerProvider.Tracer("")

// UseGlobal switches the engine tracer to the globally registered
// OpenTelemetry provider. Call after otel.SetTracerProvider.
func UseGlobal() {
	Tracer = otel.Tracer(InstrumentName)
}
