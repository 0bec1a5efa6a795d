package cmd

import (
	"context"
	"fmt"
	"log"

	"ticket-gate/config"
	"ticket-gate/internal/audit"
	"ticket-gate/internal/credential"
	"ticket-gate/internal/pubsub"
	"ticket-gate/internal/services"
	"ticket-gate/internal/store"
	"ticket-gate/monitoring"
	"ticket-gate/utils"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

// runtime holds the services shared by the server and the scan command.
type runtime struct {
	cfg      *config.Config
	redis    *redis.Client
	codec    *credential.Codec
	tickets  store.TicketStore
	monitor  *monitoring.Monitor
	engine   *services.RedemptionEngine
	issuance *services.IssuanceService
	gates    *services.GateService
}

func newRuntime(ctx context.Context, app core.App, cfg *config.Config) (*runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	secret, err := cfg.Secret()
	if err != nil {
		return nil, err
	}
	codec, err := credential.NewCodec(secret)
	if err != nil {
		return nil, err
	}

	redisClient, err := utils.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}

	var base store.TicketStore
	switch cfg.TicketStore {
	case config.StoreRedis:
		base = store.NewRedisStore(redisClient)
	default:
		base = store.NewDBXStore(app.DB())
	}
	log.Printf("Ticket store: %s", cfg.TicketStore)

	var counter store.StatusCounter
	if c, ok := base.(store.StatusCounter); ok {
		counter = c
	}
	monitor := monitoring.NewMonitor(counter)

	tickets := store.NewBreakerStore(base, utils.NewCircuitBreaker("ticket-store"))

	var publisher pubsub.Publisher = pubsub.NopPublisher{}
	if cfg.PubNubPublishKey != "" {
		publisher = pubsub.NewPubNubPublisher(cfg.PubNubPublishKey, cfg.PubNubSubscribeKey, cfg.PubNubSecretKey)
	}

	engine := services.NewRedemptionEngine(tickets,
		services.WithBroadcast(publisher, cfg.GateChannelPrefix),
		services.WithEngineMonitor(monitor),
	)
	auditLog := audit.NewRedisLog(redisClient, audit.DefaultKey, int64(cfg.AuditLogSize))

	return &runtime{
		cfg:      cfg,
		redis:    redisClient,
		codec:    codec,
		tickets:  tickets,
		monitor:  monitor,
		engine:   engine,
		issuance: services.NewIssuanceService(codec, tickets, monitor),
		gates:    services.NewGateService(codec, engine, auditLog, monitor),
	}, nil
}

// subscriber builds a PubNub subscription for channels. It returns nil when
// PubNub is not configured.
func (rt *runtime) subscriber(uuid string, channels ...string) (*pubsub.Subscriber, error) {
	if !rt.cfg.PubNubEnabled() {
		return nil, nil
	}
	sub, err := pubsub.NewSubscriber(pubsub.SubscriberConfig{
		SubscribeKey: rt.cfg.PubNubSubscribeKey,
		SecretKey:    rt.cfg.PubNubSecretKey,
		UUID:         uuid,
		Channels:     channels,
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}
	return sub, nil
}

func (rt *runtime) Close() {
	if rt.redis != nil {
		rt.redis.Close()
	}
}
