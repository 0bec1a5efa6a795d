package monitoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ticket-gate/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	credentialsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_credentials_issued_total",
			Help: "Credentials issued per event and class",
		},
		[]string{"event_id", "ticket_class"},
	)

	redemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_redemptions_total",
			Help: "Redemption decisions by outcome and reason",
		},
		[]string{"outcome", "reason"},
	)

	redeemDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticket_redeem_duration_seconds",
			Help:    "Time spent deciding one redemption",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	decodeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_decode_failures_total",
			Help: "Scanned payloads rejected before reaching the store",
		},
		[]string{"reason"},
	)

	activeScanSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scan_sessions_active",
			Help: "Scan sessions currently running in this process",
		},
	)

	ticketsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tickets_total",
			Help: "Tickets per event and status",
		},
		[]string{"event_id", "status"},
	)
)

// Monitor records ticket metrics. The zero value tracks counters but does not
// collect store totals.
type Monitor struct {
	counter  store.StatusCounter
	interval time.Duration
}

func NewMonitor(counter store.StatusCounter) *Monitor {
	return &Monitor{counter: counter, interval: 30 * time.Second}
}

// Run collects store totals until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	if m == nil || m.counter == nil {
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if err := m.collectTicketMetrics(ctx); err != nil {
			slog.Warn("Failed to collect ticket metrics", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) collectTicketMetrics(ctx context.Context) error {
	counts, err := m.counter.CountByStatus(ctx)
	if err != nil {
		return err
	}

	ticketsByStatus.Reset()
	for _, c := range counts {
		ticketsByStatus.WithLabelValues(c.EventID, string(c.Status)).Set(float64(c.Count))
	}
	return nil
}

func (m *Monitor) TrackIssued(eventID, ticketClass string) {
	credentialsIssued.WithLabelValues(eventID, ticketClass).Inc()
}

func (m *Monitor) TrackRedemption(outcome, reason string, took time.Duration) {
	if reason == "" {
		reason = "none"
	}
	redemptions.WithLabelValues(outcome, reason).Inc()
	redeemDuration.Observe(took.Seconds())
}

func (m *Monitor) TrackDecodeFailure(reason string) {
	decodeFailures.WithLabelValues(reason).Inc()
}

func (m *Monitor) SessionStarted() { activeScanSessions.Inc() }

func (m *Monitor) SessionEnded() { activeScanSessions.Dec() }

// Serve exposes /metrics on port until ctx is done.
func Serve(ctx context.Context, port string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
