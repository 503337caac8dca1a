package routing

import (
	"context"
	"log/slog"

	"github.com/glimte/sedaflow-go/contracts"
)

// Sink receives envelopes leaving the engine: file writers, loggers,
// broker producers. A sink failure is an ordinary processing failure
// subject to the route's error handler.
type Sink interface {
	Write(ctx context.Context, env *contracts.Envelope) error
}

// SinkFunc is a function adapter for Sink.
type SinkFunc func(ctx context.Context, env *contracts.Envelope) error

// Write implements Sink.
func (f SinkFunc) Write(ctx context.Context, env *contracts.Envelope) error {
	return f(ctx, env)
}

// LogSink writes envelopes to a structured logger. Useful as a
// terminal sink in demos and tests.
type LogSink struct {
	logger *slog.Logger
	name   string
}

// NewLogSink creates a sink logging at info level under the given
// sink name.
func NewLogSink(name string, logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger, name: name}
}

// Write implements Sink.
func (s *LogSink) Write(ctx context.Context, env *contracts.Envelope) error {
	s.logger.InfoContext(ctx, "sink write",
		"sink", s.name,
		"envelopeId", env.ID,
		"correlationId", env.CorrelationID,
		"body", env.BodyString(),
	)
	return nil
}
