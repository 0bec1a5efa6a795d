package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"ticket-gate/internal/store"
	"ticket-gate/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCounter struct {
	counts []store.StatusCount
	err    error
}

func (s *stubCounter) CountByStatus(context.Context) ([]store.StatusCount, error) {
	return s.counts, s.err
}

func TestMonitor_CollectTicketMetrics(t *testing.T) {
	m := NewMonitor(&stubCounter{counts: []store.StatusCount{
		{EventID: "concert-2026", Status: models.StatusActive, Count: 40},
		{EventID: "concert-2026", Status: models.StatusUsed, Count: 12},
	}})

	require.NoError(t, m.collectTicketMetrics(context.Background()))
	assert.Equal(t, 40.0, testutil.ToFloat64(ticketsByStatus.WithLabelValues("concert-2026", "ACTIVE")))
	assert.Equal(t, 12.0, testutil.ToFloat64(ticketsByStatus.WithLabelValues("concert-2026", "USED")))
}

func TestMonitor_CollectError(t *testing.T) {
	m := NewMonitor(&stubCounter{err: errors.New("connection refused")})
	assert.Error(t, m.collectTicketMetrics(context.Background()))
}

func TestMonitor_Trackers(t *testing.T) {
	var m *Monitor

	before := testutil.ToFloat64(redemptions.WithLabelValues("GRANTED", "none"))
	m.TrackRedemption("GRANTED", "", 3*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(redemptions.WithLabelValues("GRANTED", "none")))

	before = testutil.ToFloat64(credentialsIssued.WithLabelValues("concert-2026", "vip"))
	m.TrackIssued("concert-2026", "vip")
	assert.Equal(t, before+1, testutil.ToFloat64(credentialsIssued.WithLabelValues("concert-2026", "vip")))

	gauge := testutil.ToFloat64(activeScanSessions)
	m.SessionStarted()
	assert.Equal(t, gauge+1, testutil.ToFloat64(activeScanSessions))
	m.SessionEnded()
	assert.Equal(t, gauge, testutil.ToFloat64(activeScanSessions))
}

func TestMonitor_RunWithoutCounterReturns(t *testing.T) {
	done := make(chan struct{})
	go func() {
		(&Monitor{}).Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run without a counter should return immediately")
	}
}
