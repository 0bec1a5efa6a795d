package cmd

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticket-gate/config"
	"ticket-gate/internal/handlers"
	"ticket-gate/internal/services"
	"ticket-gate/monitoring"
	"ticket-gate/security"
	"ticket-gate/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	app.RootCmd.AddCommand(newKeygenCommand())
	app.RootCmd.AddCommand(newScanCommand(app, cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		rt, err := newRuntime(ctx, e.App, cfg)
		if err != nil {
			return err
		}
		app.OnTerminate().BindFunc(func(te *core.TerminateEvent) error {
			cancel()
			rt.Close()
			return te.Next()
		})

		startBackgroundTasks(ctx, rt)
		registerRoutes(e, rt)

		log.Println("Server routes registered")

		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

func registerRoutes(e *core.ServeEvent, rt *runtime) {
	ticketHandler := handlers.NewTicketHandler(rt.issuance)
	gateHandler := handlers.NewGateHandler(rt.gates)
	limiter := security.NewRateLimiter(rt.redis, rt.cfg.GateRateLimit, time.Minute)

	// Ticket endpoints
	e.Router.POST("/api/v1/tickets", ticketHandler.IssueTicket)
	e.Router.GET("/api/v1/tickets/{ticketId}/credential", ticketHandler.GetCredential)

	// Gate endpoints
	e.Router.POST("/api/v1/gate/scan", gateHandler.Scan).BindFunc(limiter.GateRateLimit())

	// Admin endpoints
	e.Router.POST("/api/v1/admin/tickets/{ticketId}/cancel", ticketHandler.CancelTicket)
	e.Router.GET("/api/v1/admin/scan-audit", gateHandler.GetScanAudit)

	// Health check
	e.Router.GET("/health", func(e *core.RequestEvent) error {
		if err := utils.RedisHealthCheck(e.Request.Context(), rt.redis); err != nil {
			return e.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return e.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})
}

func startBackgroundTasks(ctx context.Context, rt *runtime) {
	go rt.monitor.Run(ctx)

	if rt.cfg.EnableMetrics {
		go func() {
			log.Printf("Metrics listening on :%s", rt.cfg.MetricsPort)
			if err := monitoring.Serve(ctx, rt.cfg.MetricsPort); err != nil {
				slog.Error("Metrics server stopped", "error", err)
			}
		}()
	}

	sub, err := rt.subscriber(rt.cfg.PubNubUUID, rt.cfg.PurchaseChannel)
	if err != nil {
		slog.Error("Purchase intake disabled", "error", err)
		return
	}
	if sub == nil {
		log.Println("PubNub not configured, purchase intake disabled")
		return
	}

	listener := services.NewPurchaseListener(rt.issuance)
	go func() {
		if err := sub.Run(ctx, listener.Handle); err != nil {
			slog.Error("Purchase subscription stopped", "error", err)
		}
	}()
	log.Printf("Listening for purchases on %s", rt.cfg.PurchaseChannel)
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
