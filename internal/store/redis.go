package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"ticket-gate/models"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// StatsKey holds per-event ticket counts, fields "<eventID>:<status>".
const StatsKey = "tickets:stats"

// createTicketScript inserts the hash only if the key does not exist.
// KEYS[1] ticket key, KEYS[2] stats key
// ARGV: event_id, holder_id, class, price, payload, created_at
const createTicketScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1],
	'event_id', ARGV[1],
	'holder_id', ARGV[2],
	'class', ARGV[3],
	'status', 'ACTIVE',
	'price', ARGV[4],
	'payload', ARGV[5],
	'created_at', ARGV[6])
redis.call('HINCRBY', KEYS[2], ARGV[1] .. ':ACTIVE', 1)
return 1
`

// transitionScript moves an ACTIVE ticket to a terminal status.
// KEYS[1] ticket key, KEYS[2] stats key
// ARGV: target status, timestamp field, timestamp
const transitionScript = `
if redis.call('HGET', KEYS[1], 'status') ~= 'ACTIVE' then
	return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], ARGV[2], ARGV[3])
local event = redis.call('HGET', KEYS[1], 'event_id')
redis.call('HINCRBY', KEYS[2], event .. ':ACTIVE', -1)
redis.call('HINCRBY', KEYS[2], event .. ':' .. ARGV[1], 1)
return 1
`

type RedisStore struct {
	Redis *redis.Client
}

func NewRedisStore(redisClient *redis.Client) *RedisStore {
	return &RedisStore{Redis: redisClient}
}

func ticketKey(ticketID string) string {
	return fmt.Sprintf("ticket:%s", ticketID)
}

func (s *RedisStore) Get(ctx context.Context, ticketID string) (*models.TicketRecord, error) {
	fields, err := s.Redis.HGetAll(ctx, ticketKey(ticketID)).Result()
	if err != nil {
		return nil, fmt.Errorf("ticket store: get: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return recordFromHash(ticketID, fields)
}

func (s *RedisStore) Create(ctx context.Context, rec *models.TicketRecord) error {
	r := newActiveRecord(rec)
	created, err := s.Redis.Eval(ctx, createTicketScript,
		[]string{ticketKey(r.TicketID), StatsKey},
		r.EventID, r.HolderID, string(r.Class), r.Price.String(), r.Payload, r.CreatedAt.UnixMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("ticket store: create: %w", err)
	}
	if created == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *RedisStore) TryMarkUsed(ctx context.Context, ticketID string, usedAt time.Time) (bool, error) {
	return s.transition(ctx, ticketID, models.StatusUsed, "used_at", usedAt)
}

func (s *RedisStore) TryCancel(ctx context.Context, ticketID string, cancelledAt time.Time) (bool, error) {
	return s.transition(ctx, ticketID, models.StatusCancelled, "cancelled_at", cancelledAt)
}

func (s *RedisStore) transition(ctx context.Context, ticketID string, to models.TicketStatus, field string, at time.Time) (bool, error) {
	moved, err := s.Redis.Eval(ctx, transitionScript,
		[]string{ticketKey(ticketID), StatsKey},
		string(to), field, at.UnixMilli(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("ticket store: %s %q: %w", to, ticketID, err)
	}
	return moved == 1, nil
}

func recordFromHash(ticketID string, fields map[string]string) (*models.TicketRecord, error) {
	rec := &models.TicketRecord{
		TicketID: ticketID,
		EventID:  fields["event_id"],
		HolderID: fields["holder_id"],
		Class:    models.TicketClass(fields["class"]),
		Status:   models.TicketStatus(fields["status"]),
		Payload:  fields["payload"],
	}

	if v := fields["price"]; v != "" {
		price, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("ticket store: ticket %q has invalid price %q: %w", ticketID, v, err)
		}
		rec.Price = price
	}

	var err error
	if rec.CreatedAt, err = parseMillis(fields["created_at"]); err != nil {
		return nil, fmt.Errorf("ticket store: ticket %q: %w", ticketID, err)
	}
	if v, ok := fields["used_at"]; ok {
		t, err := parseMillis(v)
		if err != nil {
			return nil, fmt.Errorf("ticket store: ticket %q: %w", ticketID, err)
		}
		rec.UsedAt = &t
	}
	if v, ok := fields["cancelled_at"]; ok {
		t, err := parseMillis(v)
		if err != nil {
			return nil, fmt.Errorf("ticket store: ticket %q: %w", ticketID, err)
		}
		rec.CancelledAt = &t
	}
	return rec, nil
}

func parseMillis(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", v)
	}
	return time.UnixMilli(ms).UTC(), nil
}

func (s *RedisStore) CountByStatus(ctx context.Context) ([]StatusCount, error) {
	fields, err := s.Redis.HGetAll(ctx, StatsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("ticket store: count by status: %w", err)
	}

	counts := make([]StatusCount, 0, len(fields))
	for field, v := range fields {
		i := strings.LastIndexByte(field, ':')
		if i <= 0 {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		counts = append(counts, StatusCount{
			EventID: field[:i],
			Status:  models.TicketStatus(field[i+1:]),
			Count:   n,
		})
	}
	sort.Slice(counts, func(a, b int) bool {
		if counts[a].EventID != counts[b].EventID {
			return counts[a].EventID < counts[b].EventID
		}
		return counts[a].Status < counts[b].Status
	})
	return counts, nil
}
