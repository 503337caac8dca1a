// Package bridge adapts the in-process engine to an AMQP broker:
// AMQPSource consumes deliveries and dispatches them into a router
// entry point, and AMQPSink publishes envelopes to an exchange as a
// routing.Sink. The engine itself stays broker-agnostic; these are
// the narrow collaborators at its edges.
package bridge
