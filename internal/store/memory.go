package store

import (
	"context"
	"sync"
	"time"

	"ticket-gate/models"
)

// MemoryStore keeps records in process. The map lock is only held to find a
// ticket's entry; state transitions lock that entry alone.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	mu  sync.Mutex
	rec models.TicketRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (s *MemoryStore) entry(ticketID string) *memoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[ticketID]
}

func (s *MemoryStore) Get(_ context.Context, ticketID string) (*models.TicketRecord, error) {
	e := s.entry(ticketID)
	if e == nil {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	rec := e.rec
	return &rec, nil
}

func (s *MemoryStore) Create(_ context.Context, rec *models.TicketRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[rec.TicketID]; ok {
		return ErrAlreadyExists
	}
	s.entries[rec.TicketID] = &memoryEntry{rec: newActiveRecord(rec)}
	return nil
}

func (s *MemoryStore) TryMarkUsed(_ context.Context, ticketID string, usedAt time.Time) (bool, error) {
	return s.transition(ticketID, func(rec *models.TicketRecord) {
		rec.Status = models.StatusUsed
		rec.UsedAt = &usedAt
	}), nil
}

func (s *MemoryStore) TryCancel(_ context.Context, ticketID string, cancelledAt time.Time) (bool, error) {
	return s.transition(ticketID, func(rec *models.TicketRecord) {
		rec.Status = models.StatusCancelled
		rec.CancelledAt = &cancelledAt
	}), nil
}

func (s *MemoryStore) transition(ticketID string, apply func(*models.TicketRecord)) bool {
	e := s.entry(ticketID)
	if e == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.Status != models.StatusActive {
		return false
	}
	apply(&e.rec)
	return true
}
