package store

import (
	"context"
	"errors"
	"time"

	"ticket-gate/models"
	"ticket-gate/utils"
)

// BreakerStore fails fast while the backing store keeps erroring. Business
// answers and caller cancellation never count as failures.
type BreakerStore struct {
	next    TicketStore
	breaker *utils.CircuitBreaker
}

func NewBreakerStore(next TicketStore, breaker *utils.CircuitBreaker) *BreakerStore {
	return &BreakerStore{next: next, breaker: breaker}
}

// businessErr carries an expected store answer through the breaker without
// being counted as a failure.
type businessErr struct{ err error }

// notFailure reports errors that say nothing about the backend's health.
func notFailure(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (s *BreakerStore) Get(ctx context.Context, ticketID string) (*models.TicketRecord, error) {
	v, err := s.execute(ctx, func() (any, error) {
		rec, err := s.next.Get(ctx, ticketID)
		if notFailure(err) {
			return businessErr{err}, nil
		}
		return rec, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.TicketRecord), nil
}

func (s *BreakerStore) Create(ctx context.Context, rec *models.TicketRecord) error {
	_, err := s.execute(ctx, func() (any, error) {
		err := s.next.Create(ctx, rec)
		if notFailure(err) {
			return businessErr{err}, nil
		}
		return nil, err
	})
	return err
}

func (s *BreakerStore) TryMarkUsed(ctx context.Context, ticketID string, usedAt time.Time) (bool, error) {
	v, err := s.execute(ctx, func() (any, error) {
		ok, err := s.next.TryMarkUsed(ctx, ticketID, usedAt)
		if notFailure(err) {
			return businessErr{err}, nil
		}
		return ok, err
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (s *BreakerStore) TryCancel(ctx context.Context, ticketID string, cancelledAt time.Time) (bool, error) {
	v, err := s.execute(ctx, func() (any, error) {
		ok, err := s.next.TryCancel(ctx, ticketID, cancelledAt)
		if notFailure(err) {
			return businessErr{err}, nil
		}
		return ok, err
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (s *BreakerStore) execute(ctx context.Context, req func() (any, error)) (any, error) {
	v, err := s.breaker.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	if b, ok := v.(businessErr); ok {
		return nil, b.err
	}
	return v, nil
}
