package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ticket-gate/internal/gate"
	"ticket-gate/internal/pubsub"
	"ticket-gate/internal/status"
	"ticket-gate/internal/store"
	"ticket-gate/models"
	"ticket-gate/monitoring"
)

// RedemptionEngine turns an authenticated credential into an entry decision.
// The ACTIVE to USED write is delegated to the store's conditional update, so
// engines on any number of gates and processes agree on one winner per ticket.
type RedemptionEngine struct {
	store         store.TicketStore
	publisher     pubsub.Publisher
	channelPrefix string
	monitor       *monitoring.Monitor
	now           func() time.Time
}

type EngineOption func(*RedemptionEngine)

// WithBroadcast publishes a notice on channelPrefix+eventID after every
// granted redemption.
func WithBroadcast(p pubsub.Publisher, channelPrefix string) EngineOption {
	return func(e *RedemptionEngine) {
		e.publisher = p
		e.channelPrefix = channelPrefix
	}
}

func WithEngineMonitor(m *monitoring.Monitor) EngineOption {
	return func(e *RedemptionEngine) { e.monitor = m }
}

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *RedemptionEngine) { e.now = now }
}

func NewRedemptionEngine(s store.TicketStore, opts ...EngineOption) *RedemptionEngine {
	e := &RedemptionEngine{
		store:     s,
		publisher: pubsub.NopPublisher{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Redeem decides entry for cred. Business denials come back as a DENIED
// result with a nil error. When the store cannot be reached or the outcome
// cannot be confirmed, the result is a retryable denial and err wraps
// status.ErrStoreUnavailable. Redeem never retries.
func (e *RedemptionEngine) Redeem(ctx context.Context, cred *models.TicketCredential) (*models.ScanResult, error) {
	start := time.Now()
	res, err := e.redeem(ctx, cred)
	e.monitor.TrackRedemption(string(res.Outcome), string(res.Reason), time.Since(start))
	return res, err
}

func (e *RedemptionEngine) redeem(ctx context.Context, cred *models.TicketCredential) (*models.ScanResult, error) {
	rec, err := e.store.Get(ctx, cred.TicketID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("Credential references unknown ticket",
			"security_event", true,
			"ticket_id", cred.TicketID,
			"event_id", cred.EventID,
			"gate_id", gate.IDFrom(ctx),
		)
		return models.Denied(status.ReasonUnknownTicket, cred, nil), nil
	}
	if err != nil {
		return e.unavailable(ctx, cred, "get", err)
	}

	if rec.EventID != cred.EventID || rec.HolderID != cred.HolderID {
		slog.Warn("Credential does not match ticket record",
			"security_event", true,
			"ticket_id", cred.TicketID,
			"credential_event_id", cred.EventID,
			"record_event_id", rec.EventID,
			"gate_id", gate.IDFrom(ctx),
		)
		return models.Denied(status.ReasonUnknownTicket, cred, nil), nil
	}

	if res := terminalDenial(rec, cred); res != nil {
		return res, nil
	}

	usedAt := e.now().UTC().Truncate(time.Millisecond)
	won, err := e.store.TryMarkUsed(ctx, cred.TicketID, usedAt)
	if err != nil {
		return e.unavailable(ctx, cred, "mark used", err)
	}

	if !won {
		// Another gate got there first, or an admin cancelled in between.
		// Report whatever the store holds now.
		rec, err = e.store.Get(ctx, cred.TicketID)
		if err != nil {
			return e.unavailable(ctx, cred, "re-read", err)
		}
		if res := terminalDenial(rec, cred); res != nil {
			return res, nil
		}
		return e.unavailable(ctx, cred, "confirm", fmt.Errorf("ticket %q still %s after lost update", cred.TicketID, rec.Status))
	}

	slog.Info("Ticket redeemed", "ticket_id", cred.TicketID, "event_id", cred.EventID, "gate_id", gate.IDFrom(ctx))
	e.announce(ctx, cred, usedAt)
	return models.Granted(cred, usedAt), nil
}

func terminalDenial(rec *models.TicketRecord, cred *models.TicketCredential) *models.ScanResult {
	switch rec.Status {
	case models.StatusCancelled:
		return models.Denied(status.ReasonTicketCancelled, cred, nil)
	case models.StatusUsed:
		return models.Denied(status.ReasonAlreadyUsed, cred, rec.UsedAt)
	}
	return nil
}

func (e *RedemptionEngine) unavailable(ctx context.Context, cred *models.TicketCredential, op string, err error) (*models.ScanResult, error) {
	slog.Error("Ticket store failed during redemption",
		"error", err,
		"op", op,
		"ticket_id", cred.TicketID,
		"gate_id", gate.IDFrom(ctx),
	)
	return models.Denied(status.ReasonStoreUnavailable, cred, nil),
		fmt.Errorf("%w: %s: %v", status.ErrStoreUnavailable, op, err)
}

// announce tells the other gates of the event. Failure never changes the
// decision already made.
func (e *RedemptionEngine) announce(ctx context.Context, cred *models.TicketCredential, usedAt time.Time) {
	notice := models.RedemptionNotice{
		Type:     models.NoticeTicketRedeemed,
		TicketID: cred.TicketID,
		EventID:  cred.EventID,
		GateID:   gate.IDFrom(ctx),
		UsedAt:   usedAt,
	}
	channel := e.channelPrefix + cred.EventID

	go func() {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := e.publisher.Publish(pubCtx, channel, notice); err != nil {
			slog.Warn("Failed to broadcast redemption", "error", err, "ticket_id", notice.TicketID, "channel", channel)
		}
	}()
}
