package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TicketClass string

const (
	ClassRegular TicketClass = "regular"
	ClassVIP     TicketClass = "vip"
	ClassStudent TicketClass = "student"
	ClassChild   TicketClass = "child"
)

func (c TicketClass) Valid() bool {
	switch c {
	case ClassRegular, ClassVIP, ClassStudent, ClassChild:
		return true
	}
	return false
}

// ParseTicketClass accepts only the exact lowercase literals used on the wire.
func ParseTicketClass(s string) (TicketClass, error) {
	c := TicketClass(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown ticket class %q", s)
	}
	return c, nil
}

type TicketStatus string

const (
	StatusActive    TicketStatus = "ACTIVE"
	StatusUsed      TicketStatus = "USED"
	StatusCancelled TicketStatus = "CANCELLED"
)

// Terminal reports whether no transition may leave the status.
func (s TicketStatus) Terminal() bool {
	return s == StatusUsed || s == StatusCancelled
}

// TicketRecord is the authoritative ticket state held by the store.
type TicketRecord struct {
	TicketID    string          `json:"ticket_id" db:"id"`
	EventID     string          `json:"event_id" db:"event_id"`
	HolderID    string          `json:"holder_id" db:"holder_id"`
	Class       TicketClass     `json:"ticket_class" db:"class"`
	Status      TicketStatus    `json:"status" db:"status"`
	Price       decimal.Decimal `json:"price"`
	Payload     string          `json:"-"`
	CreatedAt   time.Time       `json:"created_at"`
	UsedAt      *time.Time      `json:"used_at,omitempty"`
	CancelledAt *time.Time      `json:"cancelled_at,omitempty"`
}

// TicketCredential is the decoded, authenticated content of a QR payload.
type TicketCredential struct {
	TicketID  string      `json:"ticket_id"`
	EventID   string      `json:"event_id"`
	HolderID  string      `json:"holder_id"`
	Class     TicketClass `json:"ticket_class"`
	IssuedAt  time.Time   `json:"issued_at"`
	Nonce     []byte      `json:"nonce"`
	Signature []byte      `json:"signature"`
}

// PurchaseConfirmation is what the checkout collaborator hands over once a
// payment has settled.
type PurchaseConfirmation struct {
	TicketID string          `json:"ticket_id"`
	EventID  string          `json:"event_id"`
	HolderID string          `json:"holder_id"`
	Class    TicketClass     `json:"ticket_class"`
	Price    decimal.Decimal `json:"price"`
}

const NoticeTicketRedeemed = "ticket_redeemed"

// RedemptionNotice is broadcast to every gate of an event after a
// successful redemption.
type RedemptionNotice struct {
	Type     string    `json:"type"`
	TicketID string    `json:"ticket_id"`
	EventID  string    `json:"event_id"`
	GateID   string    `json:"gate_id,omitempty"`
	UsedAt   time.Time `json:"used_at"`
}
