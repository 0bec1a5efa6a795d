package scanner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ticket-gate/internal/credential"
	"ticket-gate/internal/gate"
	"ticket-gate/internal/services"
	"ticket-gate/internal/status"
	"ticket-gate/internal/store"
	"ticket-gate/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanCapturer struct {
	payloads chan []byte
	closed   atomic.Bool
}

func newChanCapturer() *chanCapturer {
	return &chanCapturer{payloads: make(chan []byte, 16)}
}

func (c *chanCapturer) CaptureOnce(ctx context.Context) ([]byte, error) {
	select {
	case p := <-c.payloads:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *chanCapturer) Close() error {
	c.closed.Store(true)
	return nil
}

type recordingDisplay struct {
	attempts chan models.ScanAttempt
}

func newRecordingDisplay() *recordingDisplay {
	return &recordingDisplay{attempts: make(chan models.ScanAttempt, 16)}
}

func (d *recordingDisplay) Show(a models.ScanAttempt) { d.attempts <- a }

func (d *recordingDisplay) next(t *testing.T) models.ScanAttempt {
	t.Helper()
	select {
	case a := <-d.attempts:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("no result displayed")
		return models.ScanAttempt{}
	}
}

type redeemFunc func(ctx context.Context, cred *models.TicketCredential) (*models.ScanResult, error)

func (f redeemFunc) Redeem(ctx context.Context, cred *models.TicketCredential) (*models.ScanResult, error) {
	return f(ctx, cred)
}

func fastOptions() Options {
	return Options{
		GateID:          "north-1",
		Cooldown:        time.Millisecond,
		DisplayInterval: time.Millisecond,
		RedeemRetries:   3,
		RetryBackoff:    time.Millisecond,
	}
}

type fixture struct {
	codec   *credential.Codec
	store   *store.MemoryStore
	payload []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	codec, err := credential.NewCodec(bytes.Repeat([]byte{0x17}, credential.MinSecretSize))
	require.NoError(t, err)

	s := store.NewMemoryStore()
	cred, payload, err := codec.Issue(credential.Claims{
		TicketID: "T1",
		EventID:  "E1",
		HolderID: "U1",
		Class:    models.ClassVIP,
		IssuedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), &models.TicketRecord{
		TicketID: cred.TicketID,
		EventID:  cred.EventID,
		HolderID: cred.HolderID,
		Class:    cred.Class,
		Payload:  string(payload),
	}))
	return &fixture{codec: codec, store: s, payload: payload}
}

func runSession(s *Session, ctx context.Context) chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return done
}

func waitRun(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

func TestSession_ScanCycle(t *testing.T) {
	f := newFixture(t)
	capturer := newChanCapturer()
	display := newRecordingDisplay()

	var mu sync.Mutex
	var states []State
	opts := fastOptions()
	opts.OnState = func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}

	s := NewSession(capturer, f.codec, services.NewRedemptionEngine(f.store), display, opts)
	done := runSession(s, context.Background())

	capturer.payloads <- f.payload
	a := display.next(t)
	assert.Equal(t, models.OutcomeGranted, a.Result.Outcome)
	assert.Equal(t, models.ClassVIP, a.Result.TicketClass)
	require.NotNil(t, a.Credential)
	assert.Equal(t, "T1", a.Credential.TicketID)

	capturer.payloads <- f.payload
	a = display.next(t)
	assert.Equal(t, status.ReasonAlreadyUsed, a.Result.Reason)
	assert.NotNil(t, a.Result.UsedAt)

	capturer.payloads <- []byte("not a ticket")
	a = display.next(t)
	assert.Equal(t, status.ReasonMalformedPayload, a.Result.Reason)
	assert.Nil(t, a.Credential)

	s.Stop()
	assert.NoError(t, waitRun(t, done))
	assert.True(t, capturer.closed.Load(), "capturer must be released")
	assert.Equal(t, StateIdle, s.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateCapturing, StateDecoding, StateRedeeming, StateResultDisplayed, StateCapturing}, states[:5])
	assert.Equal(t, StateIdle, states[len(states)-1])

	rec, err := f.store.Get(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUsed, rec.Status)
}

func TestSession_CaptureTimeout(t *testing.T) {
	f := newFixture(t)
	capturer := newChanCapturer()
	opts := fastOptions()
	opts.CaptureMaxWait = 20 * time.Millisecond

	s := NewSession(capturer, f.codec, services.NewRedemptionEngine(f.store), newRecordingDisplay(), opts)

	err := waitRun(t, runSession(s, context.Background()))
	assert.ErrorIs(t, err, status.ErrCaptureTimeout)
	assert.True(t, capturer.closed.Load())
}

func TestSession_ParentCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	s := NewSession(newChanCapturer(), f.codec, services.NewRedemptionEngine(f.store), newRecordingDisplay(), fastOptions())

	done := runSession(s, ctx)
	cancel()
	assert.ErrorIs(t, waitRun(t, done), context.Canceled)
}

func TestSession_RunTwiceConcurrently(t *testing.T) {
	f := newFixture(t)
	s := NewSession(newChanCapturer(), f.codec, services.NewRedemptionEngine(f.store), newRecordingDisplay(), fastOptions())

	done := runSession(s, context.Background())
	require.Eventually(t, func() bool { return s.State() == StateCapturing }, time.Second, time.Millisecond)

	assert.ErrorIs(t, s.Run(context.Background()), ErrSessionRunning)
	s.Stop()
	assert.NoError(t, waitRun(t, done))
}

func TestSession_RetriesStoreUnavailable(t *testing.T) {
	f := newFixture(t)
	capturer := newChanCapturer()
	display := newRecordingDisplay()
	engine := services.NewRedemptionEngine(f.store)

	var calls atomic.Int32
	redeemer := redeemFunc(func(ctx context.Context, cred *models.TicketCredential) (*models.ScanResult, error) {
		assert.Equal(t, "north-1", gate.IDFrom(ctx))
		if calls.Add(1) < 3 {
			return models.Denied(status.ReasonStoreUnavailable, cred, nil), status.ErrStoreUnavailable
		}
		return engine.Redeem(ctx, cred)
	})

	s := NewSession(capturer, f.codec, redeemer, display, fastOptions())
	done := runSession(s, context.Background())

	capturer.payloads <- f.payload
	a := display.next(t)
	assert.Equal(t, models.OutcomeGranted, a.Result.Outcome)
	assert.Equal(t, int32(3), calls.Load())

	s.Stop()
	assert.NoError(t, waitRun(t, done))
}

func TestSession_RetriesExhausted(t *testing.T) {
	f := newFixture(t)
	capturer := newChanCapturer()
	display := newRecordingDisplay()

	var calls atomic.Int32
	redeemer := redeemFunc(func(ctx context.Context, cred *models.TicketCredential) (*models.ScanResult, error) {
		calls.Add(1)
		return nil, errors.New("dial tcp: connection refused")
	})

	opts := fastOptions()
	opts.RedeemRetries = 2
	s := NewSession(capturer, f.codec, redeemer, display, opts)
	done := runSession(s, context.Background())

	capturer.payloads <- f.payload
	a := display.next(t)
	assert.Equal(t, status.ReasonStoreUnavailable, a.Result.Reason)
	assert.True(t, a.Result.Retryable)
	assert.Equal(t, int32(1), calls.Load(), "only store unavailability is retried")

	s.Stop()
	assert.NoError(t, waitRun(t, done))
}

func TestSession_RetriesExhaustedOnUnavailable(t *testing.T) {
	f := newFixture(t)
	capturer := newChanCapturer()
	display := newRecordingDisplay()

	var calls atomic.Int32
	redeemer := redeemFunc(func(ctx context.Context, cred *models.TicketCredential) (*models.ScanResult, error) {
		calls.Add(1)
		return models.Denied(status.ReasonStoreUnavailable, cred, nil), status.ErrStoreUnavailable
	})

	opts := fastOptions()
	opts.RedeemRetries = 2
	s := NewSession(capturer, f.codec, redeemer, display, opts)
	done := runSession(s, context.Background())

	capturer.payloads <- f.payload
	a := display.next(t)
	assert.Equal(t, status.ReasonStoreUnavailable, a.Result.Reason)
	assert.Equal(t, int32(3), calls.Load())

	s.Stop()
	assert.NoError(t, waitRun(t, done))
}

func TestSession_StopDuringRedeemAppliesButDoesNotDisplay(t *testing.T) {
	f := newFixture(t)
	capturer := newChanCapturer()
	display := newRecordingDisplay()
	engine := services.NewRedemptionEngine(f.store)

	entered := make(chan struct{})
	release := make(chan struct{})
	var redeemCtxErr atomic.Value
	redeemer := redeemFunc(func(ctx context.Context, cred *models.TicketCredential) (*models.ScanResult, error) {
		close(entered)
		<-release
		if err := ctx.Err(); err != nil {
			redeemCtxErr.Store(err)
		}
		return engine.Redeem(ctx, cred)
	})

	recorded := make(chan models.ScanAttempt, 4)
	opts := fastOptions()
	opts.Record = func(a models.ScanAttempt) { recorded <- a }

	s := NewSession(capturer, f.codec, redeemer, display, opts)
	done := runSession(s, context.Background())

	capturer.payloads <- f.payload
	<-entered
	s.Stop()
	close(release)

	assert.NoError(t, waitRun(t, done))
	assert.Nil(t, redeemCtxErr.Load(), "the store call must not see the stop")

	require.Len(t, recorded, 1, "the applied redemption must still be recorded")
	a := <-recorded
	assert.Equal(t, models.OutcomeGranted, a.Result.Outcome)
	require.NotNil(t, a.Credential)
	assert.Equal(t, "T1", a.Credential.TicketID)

	select {
	case a := <-display.attempts:
		t.Fatalf("result displayed after stop: %+v", a.Result)
	default:
	}

	rec, err := f.store.Get(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUsed, rec.Status)
}

func TestSession_RecordsEveryDecision(t *testing.T) {
	f := newFixture(t)
	capturer := newChanCapturer()
	display := newRecordingDisplay()

	recorded := make(chan models.ScanAttempt, 4)
	opts := fastOptions()
	opts.Record = func(a models.ScanAttempt) { recorded <- a }

	s := NewSession(capturer, f.codec, services.NewRedemptionEngine(f.store), display, opts)
	done := runSession(s, context.Background())

	capturer.payloads <- []byte("not a ticket")
	display.next(t)
	capturer.payloads <- f.payload
	display.next(t)

	s.Stop()
	assert.NoError(t, waitRun(t, done))

	require.Len(t, recorded, 2)
	assert.Equal(t, status.ReasonMalformedPayload, (<-recorded).Result.Reason)
	assert.Equal(t, models.OutcomeGranted, (<-recorded).Result.Outcome)
}

// lateCapturer hands over its payload only once the capture wait expires.
type lateCapturer struct {
	payload []byte
	calls   atomic.Int32
}

func (c *lateCapturer) CaptureOnce(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	if c.calls.Add(1) == 1 {
		return c.payload, nil
	}
	return nil, ctx.Err()
}

func (c *lateCapturer) Close() error { return nil }

func TestSession_PayloadAtCaptureDeadline(t *testing.T) {
	f := newFixture(t)
	display := newRecordingDisplay()

	opts := fastOptions()
	opts.CaptureMaxWait = 20 * time.Millisecond

	s := NewSession(&lateCapturer{payload: f.payload}, f.codec, services.NewRedemptionEngine(f.store), display, opts)
	done := runSession(s, context.Background())

	a := display.next(t)
	assert.Equal(t, models.OutcomeGranted, a.Result.Outcome)
	assert.ErrorIs(t, waitRun(t, done), status.ErrCaptureTimeout)

	rec, err := f.store.Get(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUsed, rec.Status)
}

func TestSession_RegistryShortcut(t *testing.T) {
	f := newFixture(t)
	capturer := newChanCapturer()
	display := newRecordingDisplay()

	registry := gate.NewRegistry(time.Hour)
	usedAt := time.Now().Add(-5 * time.Minute)
	registry.MarkUsed("T1", usedAt)

	var calls atomic.Int32
	redeemer := redeemFunc(func(ctx context.Context, cred *models.TicketCredential) (*models.ScanResult, error) {
		calls.Add(1)
		return nil, nil
	})

	opts := fastOptions()
	opts.Registry = registry
	s := NewSession(capturer, f.codec, redeemer, display, opts)
	done := runSession(s, context.Background())

	capturer.payloads <- f.payload
	a := display.next(t)
	assert.Equal(t, status.ReasonAlreadyUsed, a.Result.Reason)
	require.NotNil(t, a.Result.UsedAt)
	assert.True(t, usedAt.Equal(*a.Result.UsedAt))
	assert.Zero(t, calls.Load())

	s.Stop()
	assert.NoError(t, waitRun(t, done))
}

func TestSession_LineCapturerEOF(t *testing.T) {
	f := newFixture(t)
	display := newRecordingDisplay()
	input := strings.NewReader("\n" + string(f.payload) + "\n\n")

	s := NewSession(NewLineCapturer(input), f.codec, services.NewRedemptionEngine(f.store), display, fastOptions())
	err := waitRun(t, runSession(s, context.Background()))
	assert.ErrorIs(t, err, io.EOF)

	a := display.next(t)
	assert.Equal(t, models.OutcomeGranted, a.Result.Outcome)
}
