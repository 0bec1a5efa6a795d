package status

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMalformedPayload = errors.New("credential: malformed payload")
	ErrInvalidSignature = errors.New("credential: invalid signature")
	ErrUnknownTicket    = errors.New("redeem: unknown ticket")
	ErrTicketCancelled  = errors.New("redeem: ticket cancelled")
	ErrAlreadyUsed      = errors.New("redeem: ticket already used")
	ErrStoreUnavailable = errors.New("redeem: ticket store unavailable")
	ErrCaptureTimeout   = errors.New("scan: capture wait exceeded")
)

// Reason is the machine readable denial cause surfaced to gate devices.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonMalformedPayload Reason = "malformed_payload"
	ReasonInvalidSignature Reason = "invalid_signature"
	ReasonUnknownTicket    Reason = "unknown_ticket"
	ReasonTicketCancelled  Reason = "ticket_cancelled"
	ReasonAlreadyUsed      Reason = "already_used"
	ReasonStoreUnavailable Reason = "store_unavailable"
)

// ReasonOf maps an error from the codec or the redemption engine to its Reason.
func ReasonOf(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrMalformedPayload):
		return ReasonMalformedPayload
	case errors.Is(err, ErrInvalidSignature):
		return ReasonInvalidSignature
	case errors.Is(err, ErrUnknownTicket):
		return ReasonUnknownTicket
	case errors.Is(err, ErrTicketCancelled):
		return ReasonTicketCancelled
	case errors.Is(err, ErrAlreadyUsed):
		return ReasonAlreadyUsed
	default:
		return ReasonStoreUnavailable
	}
}

// Retryable reports whether the same decoded credential may be submitted again.
func Retryable(r Reason) bool {
	return r == ReasonStoreUnavailable
}

// Outward is the reason reported outside the gate. A forged credential is
// reported exactly like an unreadable one.
func Outward(r Reason) Reason {
	if r == ReasonInvalidSignature {
		return ReasonMalformedPayload
	}
	return r
}

// SecurityEvent reports whether the reason must be logged for audit.
func SecurityEvent(r Reason) bool {
	return r == ReasonInvalidSignature || r == ReasonUnknownTicket
}

// OperatorMessage renders a reason for the gate operator. Forgery is never
// distinguished from an unreadable code.
func OperatorMessage(r Reason, usedAt *time.Time) string {
	switch r {
	case ReasonNone:
		return "Entry granted"
	case ReasonMalformedPayload, ReasonInvalidSignature:
		return "Ticket invalid"
	case ReasonUnknownTicket:
		return "Ticket not recognised, refer to box office"
	case ReasonTicketCancelled:
		return "Ticket cancelled"
	case ReasonAlreadyUsed:
		if usedAt != nil {
			return fmt.Sprintf("Ticket already used at %s", usedAt.Local().Format("15:04"))
		}
		return "Ticket already used"
	case ReasonStoreUnavailable:
		return "System busy, scan again"
	}
	return "Ticket invalid"
}
