package bridge

import (
	"time"

	"github.com/glimte/sedaflow-go/contracts"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ToPublishing converts an envelope to an AMQP publishing. Engine
// headers travel as AMQP headers; ID, correlation ID, and timestamp
// map to their AMQP properties.
func ToPublishing(env *contracts.Envelope) amqp.Publishing {
	headers := make(amqp.Table, len(env.Headers))
	for k, v := range env.Headers {
		headers[k] = v
	}

	return amqp.Publishing{
		MessageId:     env.ID,
		CorrelationId: env.CorrelationID,
		Timestamp:     env.Timestamp,
		ContentType:   "application/octet-stream",
		DeliveryMode:  amqp.Persistent,
		Headers:       headers,
		Body:          env.Body,
	}
}

// FromDelivery converts an AMQP delivery to an envelope. A missing
// message ID gets a generated one; a missing correlation ID falls
// back to the message ID so tracing still works for foreign
// producers.
func FromDelivery(d amqp.Delivery) *contracts.Envelope {
	id := d.MessageId
	if id == "" {
		id = uuid.New().String()
	}
	correlationID := d.CorrelationId
	if correlationID == "" {
		correlationID = id
	}
	timestamp := d.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	headers := make(map[string]any, len(d.Headers))
	for k, v := range d.Headers {
		headers[k] = v
	}

	return &contracts.Envelope{
		ID:            id,
		CorrelationID: correlationID,
		Headers:       headers,
		Body:          d.Body,
		Timestamp:     timestamp,
	}
}
