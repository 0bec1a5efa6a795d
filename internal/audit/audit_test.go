package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntry(ticketID string) Entry {
	return Entry{
		At:       time.Date(2026, 3, 14, 18, 30, 0, 123000000, time.UTC),
		GateID:   "north-1",
		TicketID: ticketID,
		EventID:  "concert-2026",
		Outcome:  "GRANTED",
		Digest:   PayloadDigest([]byte("T1." + ticketID)),
	}
}

func TestPayloadDigest(t *testing.T) {
	a := PayloadDigest([]byte("T1.a"))
	b := PayloadDigest([]byte("T1.b"))

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, PayloadDigest([]byte("T1.a")))
}

func TestEncodeEntry_Deterministic(t *testing.T) {
	e := sampleEntry("T-1")

	first, err := encodeEntry(e)
	require.NoError(t, err)
	second, err := encodeEntry(e)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	decoded, err := decodeEntry(first)
	require.NoError(t, err)
	assert.True(t, e.At.Equal(decoded.At))
	assert.Equal(t, e.TicketID, decoded.TicketID)
	assert.Equal(t, e.Digest, decoded.Digest)
}

func TestMemoryLog_CapsAndOrders(t *testing.T) {
	l := NewMemoryLog(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Record(ctx, sampleEntry(fmt.Sprintf("T-%d", i))))
	}

	entries, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "T-4", entries[0].TicketID)
	assert.Equal(t, "T-2", entries[2].TicketID)

	entries, err = l.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "T-4", entries[0].TicketID)
}

func TestRedisLog_Record(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewRedisLog(db, "", 100)
	ctx := context.Background()

	e := sampleEntry("T-1")
	data, err := encodeEntry(e)
	require.NoError(t, err)

	mock.ExpectTxPipeline()
	mock.ExpectLPush(DefaultKey, data).SetVal(1)
	mock.ExpectLTrim(DefaultKey, 0, 99).SetVal("OK")
	mock.ExpectTxPipelineExec()

	require.NoError(t, l.Record(ctx, e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLog_Recent(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewRedisLog(db, "audit:test", 100)
	ctx := context.Background()

	first, err := encodeEntry(sampleEntry("T-2"))
	require.NoError(t, err)
	second, err := encodeEntry(sampleEntry("T-1"))
	require.NoError(t, err)

	mock.ExpectLRange("audit:test", 0, 9).SetVal([]string{string(first), "not cbor \xff", string(second)})

	entries, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "T-2", entries[0].TicketID)
	assert.Equal(t, "T-1", entries[1].TicketID)

	mock.ExpectLRange("audit:test", 0, 99).SetErr(errors.New("connection refused"))
	_, err = l.Recent(ctx, 0)
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}
