package models

import (
	"time"

	"ticket-gate/internal/status"
)

type ScanOutcome string

const (
	OutcomeGranted ScanOutcome = "GRANTED"
	OutcomeDenied  ScanOutcome = "DENIED"
)

// ScanResult is the operator-facing answer for one presented ticket.
type ScanResult struct {
	Outcome     ScanOutcome   `json:"outcome"`
	Reason      status.Reason `json:"reason,omitempty"`
	Message     string        `json:"message"`
	TicketID    string        `json:"ticket_id,omitempty"`
	TicketClass TicketClass   `json:"ticket_class,omitempty"`
	UsedAt      *time.Time    `json:"used_at,omitempty"`
	Retryable   bool          `json:"retryable,omitempty"`

	// Cause is the exact reason, kept for audit and logs only.
	Cause status.Reason `json:"-"`
}

func Granted(cred *TicketCredential, usedAt time.Time) *ScanResult {
	return &ScanResult{
		Outcome:     OutcomeGranted,
		Message:     status.OperatorMessage(status.ReasonNone, nil),
		TicketID:    cred.TicketID,
		TicketClass: cred.Class,
		UsedAt:      &usedAt,
	}
}

// Denied builds a denial. An invalid signature is reported as a malformed
// payload without ticket details; only Cause keeps it apart.
func Denied(reason status.Reason, cred *TicketCredential, usedAt *time.Time) *ScanResult {
	res := &ScanResult{
		Outcome:   OutcomeDenied,
		Reason:    status.Outward(reason),
		Cause:     reason,
		Message:   status.OperatorMessage(reason, usedAt),
		UsedAt:    usedAt,
		Retryable: status.Retryable(reason),
	}
	if cred != nil && reason != status.ReasonInvalidSignature {
		res.TicketID = cred.TicketID
		res.TicketClass = cred.Class
	}
	return res
}

// InternalReason is the exact denial cause, including forgery.
func (r *ScanResult) InternalReason() status.Reason {
	if r.Cause != status.ReasonNone {
		return r.Cause
	}
	return r.Reason
}

// ScanAttempt lives for one capture cycle of a scan session.
type ScanAttempt struct {
	RawPayload []byte
	Credential *TicketCredential
	Result     *ScanResult
	Timestamp  time.Time
}
