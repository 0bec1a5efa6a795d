package services

import (
	"context"
	"testing"
	"time"

	"ticket-gate/internal/store"
	"ticket-gate/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssuanceService_OnPurchaseConfirmed(t *testing.T) {
	codec := newTestCodec(t)
	s := store.NewMemoryStore()
	svc := NewIssuanceService(codec, s, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 14, 18, 30, 45, 0, time.UTC) }
	ctx := context.Background()

	cred, payload, err := svc.OnPurchaseConfirmed(ctx, models.PurchaseConfirmation{
		TicketID: "T1",
		EventID:  "E1",
		HolderID: "U1",
		Class:    models.ClassStudent,
		Price:    decimal.RequireFromString("15.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, "T1", cred.TicketID)
	assert.Equal(t, int64(1773513045), cred.IssuedAt.Unix())

	decoded, err := codec.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, cred.Nonce, decoded.Nonce)

	rec, err := s.Get(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, rec.Status)
	assert.Equal(t, string(payload), rec.Payload)
	assert.Equal(t, models.ClassStudent, rec.Class)
	assert.True(t, decimal.RequireFromString("15").Equal(rec.Price))

	_, _, err = svc.OnPurchaseConfirmed(ctx, models.PurchaseConfirmation{
		TicketID: "T1",
		EventID:  "E1",
		HolderID: "U1",
		Class:    models.ClassStudent,
	})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestIssuanceService_AssignsTicketID(t *testing.T) {
	svc := NewIssuanceService(newTestCodec(t), store.NewMemoryStore(), nil)

	cred, _, err := svc.OnPurchaseConfirmed(context.Background(), models.PurchaseConfirmation{
		EventID:  "E1",
		HolderID: "U1",
		Class:    models.ClassChild,
	})
	require.NoError(t, err)

	_, err = uuid.Parse(cred.TicketID)
	assert.NoError(t, err)
}

func TestIssuanceService_RejectsInvalidPurchase(t *testing.T) {
	svc := NewIssuanceService(newTestCodec(t), store.NewMemoryStore(), nil)

	tests := []struct {
		name     string
		purchase models.PurchaseConfirmation
	}{
		{"Missing event", models.PurchaseConfirmation{HolderID: "U1", Class: models.ClassRegular}},
		{"Blank holder", models.PurchaseConfirmation{EventID: "E1", HolderID: "  ", Class: models.ClassRegular}},
		{"Unknown class", models.PurchaseConfirmation{EventID: "E1", HolderID: "U1", Class: "premium"}},
		{"Negative price", models.PurchaseConfirmation{EventID: "E1", HolderID: "U1", Class: models.ClassVIP, Price: decimal.NewFromInt(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.OnPurchaseConfirmed(context.Background(), tt.purchase)
			assert.ErrorIs(t, err, ErrInvalidPurchase)
		})
	}
}

func TestIssuanceService_Cancel(t *testing.T) {
	codec := newTestCodec(t)
	s := store.NewMemoryStore()
	svc := NewIssuanceService(codec, s, nil)
	engine := NewRedemptionEngine(s)
	ctx := context.Background()

	issueTicket(t, codec, s, "T-active", "E1", "U1")
	used := issueTicket(t, codec, s, "T-used", "E1", "U1")
	_, err := engine.Redeem(ctx, used)
	require.NoError(t, err)

	ok, err := svc.Cancel(ctx, "T-active")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Cancel(ctx, "T-used")
	require.NoError(t, err)
	assert.False(t, ok, "a used ticket is never cancelled")

	_, err = svc.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
