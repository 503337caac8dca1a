package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glimte/sedaflow-go/contracts"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the slice of *amqp091.Channel the sink needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Dispatcher is the slice of the router the source needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, entry string, env *contracts.Envelope) error
}

// AMQPSink publishes envelopes leaving the engine to an AMQP
// exchange. It satisfies routing.Sink, so a publish failure flows
// through the route's error handler like any other sink fault.
type AMQPSink struct {
	publisher  Publisher
	exchange   string
	routingKey string
}

// NewAMQPSink creates a sink publishing to the given exchange and
// routing key.
func NewAMQPSink(publisher Publisher, exchange, routingKey string) *AMQPSink {
	return &AMQPSink{
		publisher:  publisher,
		exchange:   exchange,
		routingKey: routingKey,
	}
}

// Write implements routing.Sink.
func (s *AMQPSink) Write(ctx context.Context, env *contracts.Envelope) error {
	if err := s.publisher.PublishWithContext(ctx, s.exchange, s.routingKey, false, false, ToPublishing(env)); err != nil {
		return fmt.Errorf("publish to %s/%s: %w", s.exchange, s.routingKey, err)
	}
	return nil
}

// AMQPSource feeds broker deliveries into a router entry point. It is
// an event source in the engine's sense: it builds envelopes and
// hands them to Dispatch, acking on success and nacking (without
// requeue, the broker's dead-lettering takes over) on failure.
type AMQPSource struct {
	dispatcher Dispatcher
	entry      string
	logger     *slog.Logger
}

// SourceOption configures the AMQPSource.
type SourceOption func(*AMQPSource)

// WithSourceLogger sets the logger.
func WithSourceLogger(logger *slog.Logger) SourceOption {
	return func(s *AMQPSource) {
		s.logger = logger
	}
}

// NewAMQPSource creates a source dispatching deliveries to entry.
func NewAMQPSource(dispatcher Dispatcher, entry string, options ...SourceOption) *AMQPSource {
	s := &AMQPSource{
		dispatcher: dispatcher,
		entry:      entry,
		logger:     slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Run consumes deliveries until the channel closes or ctx is
// cancelled. It blocks; run it on its own goroutine.
func (s *AMQPSource) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			s.handle(ctx, d)
		}
	}
}

func (s *AMQPSource) handle(ctx context.Context, d amqp.Delivery) {
	env := FromDelivery(d)

	if err := s.dispatcher.Dispatch(ctx, s.entry, env); err != nil {
		s.logger.Error("dispatch from broker failed",
			"entry", s.entry,
			"envelopeId", env.ID,
			"error", err,
		)
		if nackErr := d.Nack(false, false); nackErr != nil {
			s.logger.Error("nack failed", "envelopeId", env.ID, "error", nackErr)
		}
		return
	}

	if err := d.Ack(false); err != nil {
		s.logger.Error("ack failed", "envelopeId", env.ID, "error", err)
	}
}
