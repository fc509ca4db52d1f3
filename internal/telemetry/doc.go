// Package telemetry sets up OpenTelemetry tracing and metrics for orchestrd.
//
// New installs global tracer and meter providers exporting over OTLP (gRPC or
// HTTP). Exporter failures never stop the daemon: the instance is marked
// degraded and callers fall back to the global no-op providers.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
