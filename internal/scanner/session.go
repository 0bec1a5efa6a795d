// Package scanner drives one gate device through repeated capture, decode and
// redeem cycles. It knows nothing about cameras; a Capturer hands it raw
// payload bytes.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ticket-gate/internal/audit"
	"ticket-gate/internal/gate"
	"ticket-gate/internal/status"
	"ticket-gate/models"
	"ticket-gate/monitoring"
	"ticket-gate/utils"

	"golang.org/x/time/rate"
)

var ErrSessionRunning = errors.New("scan: session already running")

const captureDrainGrace = 50 * time.Millisecond

type State int

const (
	StateIdle State = iota
	StateCapturing
	StateDecoding
	StateRedeeming
	StateResultDisplayed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateDecoding:
		return "decoding"
	case StateRedeeming:
		return "redeeming"
	case StateResultDisplayed:
		return "result_displayed"
	}
	return "unknown"
}

// Capturer supplies raw payloads. CaptureOnce returns nil bytes and a nil
// error when nothing was recognised this attempt.
type Capturer interface {
	CaptureOnce(ctx context.Context) ([]byte, error)
	Close() error
}

type Decoder interface {
	Decode(raw []byte) (*models.TicketCredential, error)
}

type Redeemer interface {
	Redeem(ctx context.Context, cred *models.TicketCredential) (*models.ScanResult, error)
}

type Display interface {
	Show(attempt models.ScanAttempt)
}

// UsedLookup reports tickets already redeemed at another gate.
type UsedLookup interface {
	LookupUsed(ticketID string) (time.Time, bool)
}

type Options struct {
	GateID string

	// Cooldown is the pause after an unreadable or forged payload.
	Cooldown time.Duration
	// DisplayInterval is how long a redemption result stays on screen.
	DisplayInterval time.Duration
	// CaptureMaxWait ends the session when nothing is captured for this
	// long. Zero waits forever.
	CaptureMaxWait time.Duration
	// CaptureRate caps capture attempts per second.
	CaptureRate float64

	// RedeemRetries is how many times a store failure is retried with the
	// same credential before the failure is shown.
	RedeemRetries int
	RetryBackoff  time.Duration

	Registry UsedLookup
	Monitor  *monitoring.Monitor
	OnState  func(State)
	// Record receives every decided attempt, including results that are
	// never shown because the session stopped during redemption.
	Record func(models.ScanAttempt)
}

func DefaultOptions() Options {
	return Options{
		Cooldown:        750 * time.Millisecond,
		DisplayInterval: 1500 * time.Millisecond,
		CaptureMaxWait:  2 * time.Minute,
		CaptureRate:     10,
		RedeemRetries:   3,
		RetryBackoff:    200 * time.Millisecond,
	}
}

type Session struct {
	id       string
	capturer Capturer
	decoder  Decoder
	redeemer Redeemer
	display  Display
	opts     Options
	limiter  *rate.Limiter
	now      func() time.Time

	mu       sync.Mutex
	state    State
	running  bool
	stop     chan struct{}
	stopOnce sync.Once
}

func NewSession(c Capturer, d Decoder, r Redeemer, display Display, opts Options) *Session {
	limit := rate.Inf
	if opts.CaptureRate > 0 {
		limit = rate.Limit(opts.CaptureRate)
	}
	return &Session{
		id:       utils.NewSessionID(),
		capturer: c,
		decoder:  d,
		redeemer: r,
		display:  display,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, 1),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	if s.opts.OnState != nil {
		s.opts.OnState(state)
	}
}

// Stop ends the session from any state. A redemption already sent to the
// store still completes but its result is not shown.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Session) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// Run loops until Stop, ctx cancellation, the capture wait running out, or a
// capture failure. It returns nil after Stop and status.ErrCaptureTimeout
// when nothing was presented within CaptureMaxWait. The capturer is closed
// before Run returns.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSessionRunning
	}
	s.running = true
	s.mu.Unlock()

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.opts.Monitor.SessionStarted()
	slog.Info("Scan session started", "session_id", s.id, "gate_id", s.opts.GateID)

	defer func() {
		if err := s.capturer.Close(); err != nil {
			slog.Warn("Failed to release capturer", "session_id", s.id, "error", err)
		}
		s.setState(StateIdle)
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.opts.Monitor.SessionEnded()
		slog.Info("Scan session ended", "session_id", s.id, "gate_id", s.opts.GateID)
	}()

	for {
		raw, err := s.capture(ctx)
		if err != nil {
			return s.exitErr(parent, err)
		}

		if !s.cycle(ctx, raw) {
			return s.exitErr(parent, nil)
		}
	}
}

func (s *Session) exitErr(parent context.Context, err error) error {
	switch {
	case s.stopped():
		return nil
	case parent.Err() != nil:
		return parent.Err()
	}
	return err
}

// capture waits for the next non-empty payload.
func (s *Session) capture(ctx context.Context) ([]byte, error) {
	s.setState(StateCapturing)

	waitCtx := ctx
	if s.opts.CaptureMaxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.opts.CaptureMaxWait)
		defer cancel()
	}

	for {
		if err := s.limiter.Wait(waitCtx); err != nil {
			return nil, captureWaitErr(ctx)
		}

		ch := make(chan captured, 1)
		go func() {
			raw, err := s.capturer.CaptureOnce(waitCtx)
			ch <- captured{raw, err}
		}()

		select {
		case c := <-ch:
			if c.err != nil {
				if waitCtx.Err() != nil {
					return nil, captureWaitErr(ctx)
				}
				return nil, fmt.Errorf("scan: capture: %w", c.err)
			}
			if len(c.raw) == 0 {
				continue
			}
			return c.raw, nil

		case <-waitCtx.Done():
			// A payload that landed as the wait expired still counts.
			if ctx.Err() == nil {
				if raw := drainCapture(ch); raw != nil {
					return raw, nil
				}
			}
			return nil, captureWaitErr(ctx)
		}
	}
}

type captured struct {
	raw []byte
	err error
}

// drainCapture gives an in-flight capture a short grace to report after the
// wait expired.
func drainCapture(ch <-chan captured) []byte {
	timer := time.NewTimer(captureDrainGrace)
	defer timer.Stop()

	select {
	case c := <-ch:
		if c.err == nil && len(c.raw) > 0 {
			return c.raw
		}
	case <-timer.C:
	}
	return nil
}

func captureWaitErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return status.ErrCaptureTimeout
}

// cycle decodes, redeems and shows one payload. It reports false when the
// session was stopped meanwhile.
func (s *Session) cycle(ctx context.Context, raw []byte) bool {
	attempt := models.ScanAttempt{RawPayload: raw, Timestamp: s.now()}

	s.setState(StateDecoding)
	cred, err := s.decoder.Decode(raw)
	if err != nil {
		reason := status.ReasonOf(err)
		s.opts.Monitor.TrackDecodeFailure(string(reason))
		if status.SecurityEvent(reason) {
			slog.Warn("Rejected forged or foreign credential",
				"security_event", true,
				"session_id", s.id,
				"gate_id", s.opts.GateID,
				"payload_digest", audit.PayloadDigest(raw),
			)
		}

		attempt.Result = models.Denied(reason, nil, nil)
		s.record(attempt)
		s.display.Show(attempt)
		return sleepCtx(ctx, s.opts.Cooldown)
	}
	attempt.Credential = cred

	s.setState(StateRedeeming)
	attempt.Result = s.redeem(ctx, cred)
	s.record(attempt)
	if s.stopped() || ctx.Err() != nil {
		slog.Info("Scan session stopped during redemption",
			"session_id", s.id,
			"ticket_id", cred.TicketID,
			"outcome", attempt.Result.Outcome,
		)
		return false
	}

	s.setState(StateResultDisplayed)
	s.display.Show(attempt)
	return sleepCtx(ctx, s.opts.DisplayInterval)
}

func (s *Session) record(attempt models.ScanAttempt) {
	if s.opts.Record != nil {
		s.opts.Record(attempt)
	}
}

// redeem asks the engine, retrying store failures with the same credential.
// The store call itself is never cancelled by Stop.
func (s *Session) redeem(ctx context.Context, cred *models.TicketCredential) *models.ScanResult {
	if s.opts.Registry != nil {
		if usedAt, ok := s.opts.Registry.LookupUsed(cred.TicketID); ok {
			return models.Denied(status.ReasonAlreadyUsed, cred, &usedAt)
		}
	}

	rctx := gate.WithID(context.WithoutCancel(ctx), s.opts.GateID)

	for attempt := 0; ; attempt++ {
		res, err := s.redeemer.Redeem(rctx, cred)
		if err == nil && res != nil {
			return res
		}
		if err == nil {
			err = status.ErrStoreUnavailable
		}
		if res == nil {
			res = models.Denied(status.ReasonOf(err), cred, nil)
		}

		if !errors.Is(err, status.ErrStoreUnavailable) || attempt >= s.opts.RedeemRetries {
			return res
		}

		slog.Warn("Retrying redemption after store failure",
			"session_id", s.id,
			"ticket_id", cred.TicketID,
			"attempt", attempt+1,
			"error", err,
		)
		if !sleepCtx(ctx, s.opts.RetryBackoff*time.Duration(attempt+1)) {
			return res
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
