package contracts

// Well-known header keys set by engine steps. User code may read them
// but should treat them as owned by the engine.
const (
	// HeaderClaimTicket records the ticket issued by a claim check
	// store step.
	HeaderClaimTicket = "claimTicket"

	// HeaderClaimRetrieved marks the outcome of a claim check
	// retrieve step: true on hit, false on miss.
	HeaderClaimRetrieved = "claimRetrieved"

	// HeaderDeadLettered is set to true when the error handler gives
	// up on an envelope and forwards it to the dead letter stage.
	HeaderDeadLettered = "deadLettered"

	// HeaderDeadLetterReason carries the final error message that
	// exhausted redelivery.
	HeaderDeadLetterReason = "deadLetterReason"

	// HeaderFailedRoute names the route whose execution dead-lettered
	// the envelope.
	HeaderFailedRoute = "failedRoute"

	// HeaderRedeliveryCount records the number of redeliveries
	// attempted before dead-lettering.
	HeaderRedeliveryCount = "redeliveryCount"

	// HeaderFirstFailureAt records the RFC 3339 timestamp of the
	// first failed attempt.
	HeaderFirstFailureAt = "firstFailureAt"
)
