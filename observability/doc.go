// Package observability provides metrics recording for the sedaflow
// engine via OpenTelemetry. The MetricsRecorder interface decouples
// the engine from OTel; NewMetricsRecorder returns an OTel-backed
// recorder using the global meter provider, and NoopMetrics disables
// recording entirely.
package observability
