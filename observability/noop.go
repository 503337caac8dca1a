package observability

import (
	"context"
	"time"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordEnqueue does nothing.
func (NoopMetrics) RecordEnqueue(_ context.Context, _ string) {}

// RecordDrop does nothing.
func (NoopMetrics) RecordDrop(_ context.Context, _ string) {}

// RecordStageProcess does nothing.
func (NoopMetrics) RecordStageProcess(_ context.Context, _ string, _ time.Duration) {}

// RecordRouteExecution does nothing.
func (NoopMetrics) RecordRouteExecution(_ context.Context, _ string, _ time.Duration, _ error) {}

// RecordRedelivery does nothing.
func (NoopMetrics) RecordRedelivery(_ context.Context, _ string) {}

// RecordDeadLetter does nothing.
func (NoopMetrics) RecordDeadLetter(_ context.Context, _ string) {}

// RecordQueueDepth does nothing.
func (NoopMetrics) RecordQueueDepth(_ context.Context, _ string, _ int64) {}
