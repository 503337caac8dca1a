package claimcheck

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// TicketPrefix starts every ticket issued by a Store.
const TicketPrefix = "CLAIM-"

// Store maps generated tickets to externalized payloads. A ticket,
// once issued, resolves to the same payload for every retrieval until
// the process (or the backing file) goes away; implementations never
// overwrite an existing entry.
type Store interface {
	// Put stores the payload and returns a freshly generated ticket.
	Put(ctx context.Context, payload []byte) (string, error)

	// Get returns the payload stored under ticket, or
	// contracts.ErrClaimNotFound when the ticket was never issued.
	Get(ctx context.Context, ticket string) ([]byte, error)
}

// NewTicket generates a ticket with the CLAIM- prefix.
func NewTicket() string {
	return fmt.Sprintf("%s%s", TicketPrefix, uuid.New().String())
}
