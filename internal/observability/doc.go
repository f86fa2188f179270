// Package observability provides the logging, metrics and tracing used by
// every hapra component.
//
// Logging is log/slog behind a handler that redacts bearer tokens and JWTs
// and adds request-scoped fields carried on the context. Metrics are
// Prometheus collectors registered on a caller supplied registry. Tracing is
// OpenTelemetry exported over OTLP/gRPC; with no endpoint configured the
// tracer is a no-op.
package observability
