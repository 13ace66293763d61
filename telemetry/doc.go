// Package telemetry wires OpenTelemetry tracing for taskkit services.
//
// InitProvider installs an OTLP exporter (gRPC or HTTP) as the global
// provider. Without it, GetTracer returns a no-op tracer, so callers can
// start spans unconditionally.
package telemetry
