// Package gate keeps a device-local view of tickets redeemed elsewhere at the
// venue. USED is terminal, so a ticket seen here can be denied without a
// store round trip; a ticket not seen here still goes to the store.
package gate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ticket-gate/internal/pubsub"
	"ticket-gate/models"
)

type Registry struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]registryEntry
}

type registryEntry struct {
	usedAt  time.Time
	expires time.Time
}

func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]registryEntry),
	}
}

func (r *Registry) MarkUsed(ticketID string, usedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[ticketID]; ok && !e.usedAt.IsZero() && e.usedAt.Before(usedAt) {
		usedAt = e.usedAt
	}
	r.entries[ticketID] = registryEntry{usedAt: usedAt, expires: r.now().Add(r.ttl)}
}

// LookupUsed returns when the ticket was redeemed, if this device has heard.
func (r *Registry) LookupUsed(ticketID string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[ticketID]
	if !ok {
		return time.Time{}, false
	}
	if r.now().After(e.expires) {
		delete(r.entries, ticketID)
		return time.Time{}, false
	}
	return e.usedAt, true
}

// Sweep drops expired entries and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, e := range r.entries {
		if now.After(e.expires) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// RunSweeper sweeps every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				slog.Debug("swept redeemed ticket registry", "removed", n)
			}
		}
	}
}

// Feed returns a subscription handler that records redemption notices for
// eventID and ignores everything else.
func (r *Registry) Feed(eventID string) pubsub.MessageHandler {
	return func(_ context.Context, channel string, message any) {
		var notice models.RedemptionNotice
		if err := pubsub.Decode(message, &notice); err != nil {
			slog.Warn("ignoring unreadable gate notice", "channel", channel, "error", err)
			return
		}
		if notice.Type != models.NoticeTicketRedeemed || notice.TicketID == "" {
			return
		}
		if eventID != "" && notice.EventID != eventID {
			return
		}
		r.MarkUsed(notice.TicketID, notice.UsedAt)
	}
}
