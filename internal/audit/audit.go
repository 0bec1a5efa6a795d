// Package audit records every scan decision a gate makes. Entries never hold
// the raw credential, only a digest of it, so the log can be read by staff
// without leaking usable tickets.
package audit

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

type Entry struct {
	At       time.Time `cbor:"at" json:"at"`
	GateID   string    `cbor:"gate" json:"gate_id"`
	TicketID string    `cbor:"ticket,omitempty" json:"ticket_id,omitempty"`
	EventID  string    `cbor:"event,omitempty" json:"event_id,omitempty"`
	Outcome  string    `cbor:"outcome" json:"outcome"`
	Reason   string    `cbor:"reason,omitempty" json:"reason,omitempty"`
	Digest   string    `cbor:"digest" json:"payload_digest"`
	Remote   string    `cbor:"remote,omitempty" json:"remote,omitempty"`
}

type Log interface {
	Record(ctx context.Context, e Entry) error
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// PayloadDigest identifies a scanned payload without storing it.
func PayloadDigest(raw []byte) string {
	sum := blake3.Sum256(raw)
	return hex.EncodeToString(sum[:16])
}

// MemoryLog is a bounded in-process log, used by single-device deployments
// and tests.
type MemoryLog struct {
	mu      sync.Mutex
	size    int
	entries []Entry
}

func NewMemoryLog(size int) *MemoryLog {
	if size <= 0 {
		size = 1
	}
	return &MemoryLog{size: size}
}

func (l *MemoryLog) Record(_ context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.size; over > 0 {
		l.entries = append(l.entries[:0], l.entries[over:]...)
	}
	return nil
}

func (l *MemoryLog) Recent(_ context.Context, limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]Entry, 0, limit)
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.entries[i])
	}
	return out, nil
}
