package services

import (
	"context"
	"log/slog"
	"time"

	"ticket-gate/internal/audit"
	"ticket-gate/internal/credential"
	"ticket-gate/internal/gate"
	"ticket-gate/internal/status"
	"ticket-gate/models"
	"ticket-gate/monitoring"
)

// GateService answers scans submitted by remote gate devices: decode, redeem
// and record the decision.
type GateService struct {
	codec   *credential.Codec
	engine  *RedemptionEngine
	audit   audit.Log
	monitor *monitoring.Monitor
	now     func() time.Time
}

func NewGateService(codec *credential.Codec, engine *RedemptionEngine, log audit.Log, monitor *monitoring.Monitor) *GateService {
	return &GateService{
		codec:   codec,
		engine:  engine,
		audit:   log,
		monitor: monitor,
		now:     time.Now,
	}
}

// Decode verifies a payload and records decode failures.
func (s *GateService) Decode(raw []byte) (*models.TicketCredential, error) {
	cred, err := s.codec.Decode(raw)
	if err != nil {
		reason := status.ReasonOf(err)
		s.monitor.TrackDecodeFailure(string(reason))
		if status.SecurityEvent(reason) {
			slog.Warn("Rejected forged or foreign credential",
				"security_event", true,
				"payload_digest", audit.PayloadDigest(raw),
			)
		}
	}
	return cred, err
}

// Scan handles one presented payload end to end. The error is non-nil only
// when the store could not confirm the outcome; the result is always set.
func (s *GateService) Scan(ctx context.Context, gateID, remote string, raw []byte) (*models.ScanResult, error) {
	attempt := models.ScanAttempt{RawPayload: raw, Timestamp: s.now()}

	cred, err := s.Decode(raw)
	if err != nil {
		attempt.Result = models.Denied(status.ReasonOf(err), nil, nil)
		s.RecordAttempt(ctx, gateID, remote, attempt)
		return attempt.Result, nil
	}
	attempt.Credential = cred

	// The redemption outlives a dropped request; the caller may retry and
	// must then see the applied result.
	res, err := s.engine.Redeem(gate.WithID(context.WithoutCancel(ctx), gateID), cred)
	attempt.Result = res
	s.RecordAttempt(ctx, gateID, remote, attempt)
	return res, err
}

// RecordAttempt appends the decision to the audit log. Audit failures are
// logged and never change the decision.
func (s *GateService) RecordAttempt(ctx context.Context, gateID, remote string, attempt models.ScanAttempt) {
	if s.audit == nil || attempt.Result == nil {
		return
	}

	entry := audit.Entry{
		At:      attempt.Timestamp.UTC(),
		GateID:  gateID,
		Outcome: string(attempt.Result.Outcome),
		Reason:  string(attempt.Result.InternalReason()),
		Digest:  audit.PayloadDigest(attempt.RawPayload),
		Remote:  remote,
	}
	if attempt.Credential != nil {
		entry.TicketID = attempt.Credential.TicketID
		entry.EventID = attempt.Credential.EventID
	}

	if err := s.audit.Record(context.WithoutCancel(ctx), entry); err != nil {
		slog.Error("Failed to record scan audit entry", "error", err, "gate_id", gateID, "ticket_id", entry.TicketID)
	}
}

func (s *GateService) RecentScans(ctx context.Context, limit int) ([]audit.Entry, error) {
	if s.audit == nil {
		return nil, nil
	}
	return s.audit.Recent(ctx, limit)
}
