package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ticket-gate/internal/pubsub"
	"ticket-gate/internal/store"
	"ticket-gate/models"
)

const purchaseConfirmed = "purchase_confirmed"

// purchaseMessage is what the checkout side publishes once a payment
// settles.
type purchaseMessage struct {
	Type string `json:"type"`
	models.PurchaseConfirmation
}

// PurchaseListener issues credentials for purchase confirmations arriving
// over PubNub.
type PurchaseListener struct {
	issuance *IssuanceService
}

func NewPurchaseListener(issuance *IssuanceService) *PurchaseListener {
	return &PurchaseListener{issuance: issuance}
}

// Handle is a pubsub.MessageHandler.
func (l *PurchaseListener) Handle(ctx context.Context, channel string, message any) {
	p, err := parsePurchaseMessage(message)
	if err != nil {
		slog.Warn("Ignoring purchase message", "channel", channel, "error", err)
		return
	}

	cred, _, err := l.issuance.OnPurchaseConfirmed(ctx, p)
	switch {
	case errors.Is(err, store.ErrAlreadyExists):
		slog.Warn("Purchase already issued", "ticket_id", p.TicketID, "event_id", p.EventID)
	case err != nil:
		slog.Error("Failed to issue ticket for purchase", "error", err, "ticket_id", p.TicketID, "event_id", p.EventID)
	default:
		slog.Info("Issued ticket from purchase confirmation", "ticket_id", cred.TicketID, "channel", channel)
	}
}

var _ pubsub.MessageHandler = (&PurchaseListener{}).Handle

func parsePurchaseMessage(message any) (models.PurchaseConfirmation, error) {
	var m purchaseMessage
	if err := pubsub.Decode(message, &m); err != nil {
		return models.PurchaseConfirmation{}, err
	}
	if m.Type != purchaseConfirmed {
		return models.PurchaseConfirmation{}, fmt.Errorf("unexpected message type %q", m.Type)
	}
	return m.PurchaseConfirmation, nil
}
