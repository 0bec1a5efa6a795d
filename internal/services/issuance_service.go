package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ticket-gate/internal/credential"
	"ticket-gate/internal/store"
	"ticket-gate/models"
	"ticket-gate/monitoring"
	"ticket-gate/utils"
)

var ErrInvalidPurchase = errors.New("issue: invalid purchase confirmation")

type IssuanceService struct {
	codec   *credential.Codec
	store   store.TicketStore
	monitor *monitoring.Monitor
	now     func() time.Time
}

func NewIssuanceService(codec *credential.Codec, s store.TicketStore, monitor *monitoring.Monitor) *IssuanceService {
	return &IssuanceService{
		codec:   codec,
		store:   s,
		monitor: monitor,
		now:     time.Now,
	}
}

// OnPurchaseConfirmed issues the credential for a settled purchase and creates
// the ACTIVE ticket record holding it. Purchases are not deduplicated here; a
// repeated ticket id fails with store.ErrAlreadyExists.
func (s *IssuanceService) OnPurchaseConfirmed(ctx context.Context, p models.PurchaseConfirmation) (*models.TicketCredential, []byte, error) {
	if err := validatePurchase(&p); err != nil {
		return nil, nil, err
	}
	if p.TicketID == "" {
		p.TicketID = utils.NewTicketID()
	}

	cred, payload, err := s.codec.Issue(credential.Claims{
		TicketID: p.TicketID,
		EventID:  p.EventID,
		HolderID: p.HolderID,
		Class:    p.Class,
		IssuedAt: s.now(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("issue ticket %q: %w", p.TicketID, err)
	}

	err = s.store.Create(ctx, &models.TicketRecord{
		TicketID:  cred.TicketID,
		EventID:   cred.EventID,
		HolderID:  cred.HolderID,
		Class:     cred.Class,
		Price:     p.Price,
		Payload:   string(payload),
		CreatedAt: cred.IssuedAt,
	})
	if err != nil {
		slog.Error("Failed to create ticket record", "error", err, "ticket_id", cred.TicketID, "event_id", cred.EventID)
		return nil, nil, fmt.Errorf("issue ticket %q: %w", cred.TicketID, err)
	}

	s.monitor.TrackIssued(cred.EventID, string(cred.Class))
	slog.Info("Ticket issued", "ticket_id", cred.TicketID, "event_id", cred.EventID, "ticket_class", cred.Class)
	return cred, payload, nil
}

// Cancel moves an ACTIVE ticket to CANCELLED. It reports false when the ticket
// was already USED or CANCELLED.
func (s *IssuanceService) Cancel(ctx context.Context, ticketID string) (bool, error) {
	cancelled, err := s.store.TryCancel(ctx, ticketID, s.now().UTC().Truncate(time.Millisecond))
	if err != nil {
		return false, fmt.Errorf("cancel ticket %q: %w", ticketID, err)
	}
	if !cancelled {
		if _, err := s.store.Get(ctx, ticketID); err != nil {
			return false, fmt.Errorf("cancel ticket %q: %w", ticketID, err)
		}
	}
	slog.Info("Ticket cancel requested", "ticket_id", ticketID, "cancelled", cancelled)
	return cancelled, nil
}

// Ticket returns the stored record, including its payload.
func (s *IssuanceService) Ticket(ctx context.Context, ticketID string) (*models.TicketRecord, error) {
	return s.store.Get(ctx, ticketID)
}

func validatePurchase(p *models.PurchaseConfirmation) error {
	p.TicketID = strings.TrimSpace(p.TicketID)
	p.EventID = strings.TrimSpace(p.EventID)
	p.HolderID = strings.TrimSpace(p.HolderID)

	switch {
	case p.EventID == "":
		return fmt.Errorf("%w: event_id is required", ErrInvalidPurchase)
	case p.HolderID == "":
		return fmt.Errorf("%w: holder_id is required", ErrInvalidPurchase)
	case !p.Class.Valid():
		return fmt.Errorf("%w: unknown ticket class %q", ErrInvalidPurchase, p.Class)
	case p.Price.IsNegative():
		return fmt.Errorf("%w: price must not be negative", ErrInvalidPurchase)
	}
	return nil
}
