package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ticket-gate/models"

	"github.com/pocketbase/dbx"
	"github.com/shopspring/decimal"
)

const TicketsTable = "issued_tickets"

// DBXStore keeps tickets in the application database. In production the
// builder is PocketBase's app.DB().
type DBXStore struct {
	db dbx.Builder
}

func NewDBXStore(db dbx.Builder) *DBXStore {
	return &DBXStore{db: db}
}

// Migrate creates the tickets table. It is idempotent.
func Migrate(db dbx.Builder) error {
	_, err := db.NewQuery(`
		CREATE TABLE IF NOT EXISTS ` + TicketsTable + ` (
			id           TEXT PRIMARY KEY NOT NULL,
			event_id     TEXT NOT NULL,
			holder_id    TEXT NOT NULL,
			class        TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'ACTIVE',
			price        TEXT NOT NULL DEFAULT '0',
			payload      TEXT NOT NULL DEFAULT '',
			created_at   INTEGER NOT NULL,
			used_at      INTEGER,
			cancelled_at INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_issued_tickets_event ON ` + TicketsTable + ` (event_id);
		CREATE INDEX IF NOT EXISTS idx_issued_tickets_holder ON ` + TicketsTable + ` (holder_id);
	`).Execute()
	if err != nil {
		return fmt.Errorf("ticket store: migrate: %w", err)
	}
	return nil
}

type ticketRow struct {
	ID          string        `db:"id"`
	EventID     string        `db:"event_id"`
	HolderID    string        `db:"holder_id"`
	Class       string        `db:"class"`
	Status      string        `db:"status"`
	Price       string        `db:"price"`
	Payload     string        `db:"payload"`
	CreatedAt   int64         `db:"created_at"`
	UsedAt      sql.NullInt64 `db:"used_at"`
	CancelledAt sql.NullInt64 `db:"cancelled_at"`
}

func (r *ticketRow) toRecord() (*models.TicketRecord, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return nil, fmt.Errorf("ticket store: ticket %q has invalid price %q: %w", r.ID, r.Price, err)
	}

	rec := &models.TicketRecord{
		TicketID:  r.ID,
		EventID:   r.EventID,
		HolderID:  r.HolderID,
		Class:     models.TicketClass(r.Class),
		Status:    models.TicketStatus(r.Status),
		Price:     price,
		Payload:   r.Payload,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
	}
	if r.UsedAt.Valid {
		t := time.UnixMilli(r.UsedAt.Int64).UTC()
		rec.UsedAt = &t
	}
	if r.CancelledAt.Valid {
		t := time.UnixMilli(r.CancelledAt.Int64).UTC()
		rec.CancelledAt = &t
	}
	return rec, nil
}

func (s *DBXStore) Get(ctx context.Context, ticketID string) (*models.TicketRecord, error) {
	var row ticketRow
	err := s.db.Select("*").
		From(TicketsTable).
		Where(dbx.HashExp{"id": ticketID}).
		WithContext(ctx).
		One(&row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ticket store: get: %w", err)
	}
	return row.toRecord()
}

func (s *DBXStore) Create(ctx context.Context, rec *models.TicketRecord) error {
	r := newActiveRecord(rec)
	_, err := s.db.Insert(TicketsTable, dbx.Params{
		"id":         r.TicketID,
		"event_id":   r.EventID,
		"holder_id":  r.HolderID,
		"class":      string(r.Class),
		"status":     string(r.Status),
		"price":      r.Price.String(),
		"payload":    r.Payload,
		"created_at": r.CreatedAt.UnixMilli(),
	}).WithContext(ctx).Execute()
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("ticket store: create: %w", err)
	}
	return nil
}

func (s *DBXStore) TryMarkUsed(ctx context.Context, ticketID string, usedAt time.Time) (bool, error) {
	return s.conditionalUpdate(ctx, ticketID, dbx.Params{
		"status":  string(models.StatusUsed),
		"used_at": usedAt.UnixMilli(),
	})
}

func (s *DBXStore) TryCancel(ctx context.Context, ticketID string, cancelledAt time.Time) (bool, error) {
	return s.conditionalUpdate(ctx, ticketID, dbx.Params{
		"status":       string(models.StatusCancelled),
		"cancelled_at": cancelledAt.UnixMilli(),
	})
}

// conditionalUpdate is UPDATE ... WHERE id = ? AND status = 'ACTIVE'; the
// database decides the single winner.
func (s *DBXStore) conditionalUpdate(ctx context.Context, ticketID string, set dbx.Params) (bool, error) {
	res, err := s.db.Update(TicketsTable, set, dbx.HashExp{
		"id":     ticketID,
		"status": string(models.StatusActive),
	}).WithContext(ctx).Execute()
	if err != nil {
		return false, fmt.Errorf("ticket store: update %q: %w", ticketID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ticket store: update %q: %w", ticketID, err)
	}
	return n == 1, nil
}

func (s *DBXStore) CountByStatus(ctx context.Context) ([]StatusCount, error) {
	var counts []StatusCount
	err := s.db.Select("event_id", "status", "COUNT(*) AS total").
		From(TicketsTable).
		GroupBy("event_id", "status").
		WithContext(ctx).
		All(&counts)
	if err != nil {
		return nil, fmt.Errorf("ticket store: count by status: %w", err)
	}
	return counts, nil
}
