package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticket-gate/config"
	"ticket-gate/internal/gate"
	"ticket-gate/internal/scanner"
	"ticket-gate/internal/status"
	"ticket-gate/models"

	"github.com/pocketbase/pocketbase/core"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	localRemote   = "local"
	sweepInterval = time.Minute
)

func newScanCommand(app core.App, cfg *config.Config) *cobra.Command {
	var eventID, gateID string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a gate scan session, one payload per line on stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateScan(); err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, app, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			return runScan(ctx, rt, eventID, gateID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&eventID, "event", "", "event whose gate broadcasts this device follows")
	cmd.Flags().StringVar(&gateID, "gate", cfg.GateID, "gate id reported in audit entries and broadcasts")
	cmd.MarkFlagRequired("event")

	return cmd
}

func scanOptions(cfg *config.Config, gateID string) scanner.Options {
	opts := scanner.DefaultOptions()
	opts.GateID = gateID
	opts.Cooldown = cfg.ScanCooldown
	opts.DisplayInterval = cfg.ScanDisplayInterval
	opts.CaptureMaxWait = cfg.CaptureMaxWait
	opts.CaptureRate = cfg.CaptureRate
	opts.RedeemRetries = cfg.RedeemRetries
	opts.RetryBackoff = cfg.RedeemRetryBackoff
	return opts
}

// runScan drives one scan session on in until the input ends, the operator
// interrupts, or nothing is captured for CAPTURE_MAX_WAIT. The gate feed and
// registry sweeper run alongside and stop with the session.
func runScan(ctx context.Context, rt *runtime, eventID, gateID string, in io.Reader, out io.Writer) error {
	registry := gate.NewRegistry(rt.cfg.RecentRedemptionTTL)

	opts := scanOptions(rt.cfg, gateID)
	opts.Registry = registry
	opts.Monitor = rt.monitor
	opts.Record = func(attempt models.ScanAttempt) {
		rt.gates.RecordAttempt(ctx, gateID, localRemote, attempt)
	}

	session := scanner.NewSession(scanner.NewLineCapturer(in), rt.codec, rt.engine, scanner.NewConsoleDisplay(out), opts)

	sub, err := rt.subscriber(rt.cfg.PubNubUUID+"-"+gateID, rt.cfg.GateChannelPrefix+eventID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		registry.RunSweeper(gctx, sweepInterval)
		return nil
	})

	if sub != nil {
		g.Go(func() error {
			return sub.Run(gctx, registry.Feed(eventID))
		})
	}

	g.Go(func() error {
		defer cancel()

		err := session.Run(gctx)
		switch {
		case err == nil, errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			// Interrupted by the operator.
			return nil
		case errors.Is(err, status.ErrCaptureTimeout):
			fmt.Fprintln(out, "No ticket presented, session closed")
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		slog.Error("Scan session failed", "session_id", session.ID(), "event_id", eventID, "error", err)
		return err
	}
	return nil
}
