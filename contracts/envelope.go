package contracts

import (
	"time"

	"github.com/google/uuid"
)

// Envelope is the unit of data flowing through the engine. Steps may
// mutate Headers and Body; ID and Timestamp are assigned at creation
// and never change. Attempt is incremented only by the error handler.
type Envelope struct {
	ID            string         `json:"id"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Headers       map[string]any `json:"headers,omitempty"`
	Body          []byte         `json:"body"`
	Attempt       int            `json:"attempt"`
	Timestamp     time.Time      `json:"timestamp"`

	// Stash preserves a body that a step temporarily replaced, so a
	// later step in the same route can restore it without smuggling
	// the payload through the header map. Owned by the claim check
	// store step; other steps must not write it.
	Stash []byte `json:"-"`
}

// NewEnvelope creates an envelope with a generated ID and current
// UTC timestamp. The correlation ID defaults to the envelope's own ID
// so every logical unit of work is traceable even when the source
// supplies no correlation of its own.
func NewEnvelope(body []byte) *Envelope {
	id := uuid.New().String()
	return &Envelope{
		ID:            id,
		CorrelationID: id,
		Headers:       make(map[string]any),
		Body:          body,
		Timestamp:     time.Now().UTC(),
	}
}

// NewEnvelopeString creates an envelope from a string body.
func NewEnvelopeString(body string) *Envelope {
	return NewEnvelope([]byte(body))
}

// Copy returns a new envelope derived from e: fresh ID, same
// correlation ID, deep-copied headers, and an independent body. Used
// at wire-tap fan-out points so the copy and the original mutate
// freely without observing each other.
func (e *Envelope) Copy() *Envelope {
	headers := make(map[string]any, len(e.Headers))
	for k, v := range e.Headers {
		headers[k] = v
	}

	body := make([]byte, len(e.Body))
	copy(body, e.Body)

	return &Envelope{
		ID:            uuid.New().String(),
		CorrelationID: e.CorrelationID,
		Headers:       headers,
		Body:          body,
		Attempt:       e.Attempt,
		Timestamp:     time.Now().UTC(),
	}
}

// SetHeader sets a header value, allocating the map if needed.
func (e *Envelope) SetHeader(key string, value any) {
	if e.Headers == nil {
		e.Headers = make(map[string]any)
	}
	e.Headers[key] = value
}

// Header returns the raw header value and whether it is present.
func (e *Envelope) Header(key string) (any, bool) {
	v, ok := e.Headers[key]
	return v, ok
}

// HeaderString returns the header value as a string, or "" when the
// header is absent or not a string.
func (e *Envelope) HeaderString(key string) string {
	if s, ok := e.Headers[key].(string); ok {
		return s
	}
	return ""
}

// HeaderBool returns the header value as a bool, or false when the
// header is absent or not a bool.
func (e *Envelope) HeaderBool(key string) bool {
	b, _ := e.Headers[key].(bool)
	return b
}

// HeaderFloat returns the header value as a float64. Integer header
// values are widened; anything else reports ok == false.
func (e *Envelope) HeaderFloat(key string) (float64, bool) {
	switch v := e.Headers[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// BodyString returns the body as a string.
func (e *Envelope) BodyString() string {
	return string(e.Body)
}

// SetBodyString replaces the body with a string payload.
func (e *Envelope) SetBodyString(body string) {
	e.Body = []byte(body)
}
