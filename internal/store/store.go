// Package store holds the authoritative ticket status. Every implementation
// performs the ACTIVE to USED and ACTIVE to CANCELLED transitions as a single
// conditional write, so concurrent redemptions of one ticket have exactly one
// winner while distinct tickets never contend.
package store

import (
	"context"
	"errors"
	"time"

	"ticket-gate/models"
)

var (
	ErrNotFound      = errors.New("store: ticket not found")
	ErrAlreadyExists = errors.New("store: ticket already exists")
)

type TicketStore interface {
	// Get returns ErrNotFound when no record exists.
	Get(ctx context.Context, ticketID string) (*models.TicketRecord, error)

	// Create inserts an ACTIVE record. Returns ErrAlreadyExists on a duplicate id.
	Create(ctx context.Context, rec *models.TicketRecord) error

	// TryMarkUsed moves the ticket from ACTIVE to USED. It reports false when
	// the ticket is missing or was not ACTIVE at the moment of the write.
	TryMarkUsed(ctx context.Context, ticketID string, usedAt time.Time) (bool, error)

	// TryCancel moves the ticket from ACTIVE to CANCELLED.
	TryCancel(ctx context.Context, ticketID string, cancelledAt time.Time) (bool, error)
}

func newActiveRecord(rec *models.TicketRecord) models.TicketRecord {
	out := *rec
	out.Status = models.StatusActive
	out.UsedAt = nil
	out.CancelledAt = nil
	return out
}

// StatusCount is the number of tickets of one event in one status.
type StatusCount struct {
	EventID string              `db:"event_id"`
	Status  models.TicketStatus `db:"status"`
	Count   int64               `db:"total"`
}

// StatusCounter is implemented by stores that can report ticket totals for
// metrics.
type StatusCounter interface {
	CountByStatus(ctx context.Context) ([]StatusCount, error)
}
