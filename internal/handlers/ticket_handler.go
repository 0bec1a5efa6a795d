package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"ticket-gate/internal/services"
	"ticket-gate/internal/store"
	"ticket-gate/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type TicketHandler struct {
	issuance *services.IssuanceService
}

func NewTicketHandler(issuance *services.IssuanceService) *TicketHandler {
	return &TicketHandler{issuance: issuance}
}

// IssueTicket - Issue a credential for a settled purchase
func (h *TicketHandler) IssueTicket(e *core.RequestEvent) error {
	if !e.HasSuperuserAuth() {
		return apis.NewUnauthorizedError("Superuser access required", nil)
	}

	var req models.PurchaseConfirmation
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	cred, payload, err := h.issuance.OnPurchaseConfirmed(e.Request.Context(), req)
	switch {
	case errors.Is(err, services.ErrInvalidPurchase):
		return apis.NewBadRequestError(err.Error(), nil)
	case errors.Is(err, store.ErrAlreadyExists):
		return e.JSON(http.StatusConflict, map[string]any{
			"error":     "Ticket already issued",
			"ticket_id": req.TicketID,
		})
	case err != nil:
		return storeFailure(e, "Failed to issue ticket", err)
	}

	return e.JSON(http.StatusCreated, map[string]any{
		"ticket_id":    cred.TicketID,
		"event_id":     cred.EventID,
		"holder_id":    cred.HolderID,
		"ticket_class": cred.Class,
		"issued_at":    cred.IssuedAt,
		"payload":      string(payload),
	})
}

// GetCredential - Return the QR payload of a ticket to its holder
func (h *TicketHandler) GetCredential(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	ticketID := e.Request.PathValue("ticketId")
	rec, err := h.issuance.Ticket(e.Request.Context(), ticketID)
	if errors.Is(err, store.ErrNotFound) {
		return apis.NewNotFoundError("Ticket not found", nil)
	}
	if err != nil {
		return storeFailure(e, "Failed to load ticket", err)
	}

	if rec.HolderID != e.Auth.Id && !e.HasSuperuserAuth() {
		// Indistinguishable from a missing ticket.
		return apis.NewNotFoundError("Ticket not found", nil)
	}
	if rec.Payload == "" {
		return apis.NewNotFoundError("Ticket has no credential", nil)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"ticket_id":    rec.TicketID,
		"event_id":     rec.EventID,
		"ticket_class": rec.Class,
		"status":       rec.Status,
		"used_at":      rec.UsedAt,
		"payload":      rec.Payload,
	})
}

// CancelTicket - Cancel an ACTIVE ticket (admin action)
func (h *TicketHandler) CancelTicket(e *core.RequestEvent) error {
	if !e.HasSuperuserAuth() {
		return apis.NewUnauthorizedError("Superuser access required", nil)
	}

	ticketID := e.Request.PathValue("ticketId")
	ctx := e.Request.Context()

	cancelled, err := h.issuance.Cancel(ctx, ticketID)
	if errors.Is(err, store.ErrNotFound) {
		return apis.NewNotFoundError("Ticket not found", nil)
	}
	if err != nil {
		return storeFailure(e, "Failed to cancel ticket", err)
	}

	if !cancelled {
		rec, err := h.issuance.Ticket(ctx, ticketID)
		if err != nil {
			return storeFailure(e, "Failed to load ticket", err)
		}
		return e.JSON(http.StatusConflict, map[string]any{
			"error":     "Ticket is no longer active",
			"ticket_id": ticketID,
			"status":    rec.Status,
		})
	}

	slog.Info("Ticket cancelled by admin", "ticket_id", ticketID, "admin_id", e.Auth.Id)
	return e.JSON(http.StatusOK, map[string]any{
		"ticket_id": ticketID,
		"status":    models.StatusCancelled,
	})
}

func storeFailure(e *core.RequestEvent, message string, err error) error {
	slog.Error(message, "error", err, "path", e.Request.URL.Path)
	return e.JSON(http.StatusServiceUnavailable, map[string]any{
		"error":     message,
		"retryable": true,
	})
}
