package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "leaderboard-system"

// Tracer returns the tracer of the globally registered provider. Without an
// exporter configured this is the otel no-op provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
