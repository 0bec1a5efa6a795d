package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	pubnub "github.com/pubnub/go/v7"
)

// MessageHandler receives the raw PubNub message body. It runs on the
// subscription goroutine, so slow work must be handed off.
type MessageHandler func(ctx context.Context, channel string, message any)

type SubscriberConfig struct {
	SubscribeKey string
	SecretKey    string
	UUID         string
	Channels     []string
}

type Subscriber struct {
	pn       *pubnub.PubNub
	listener *pubnub.Listener
	channels []string
}

func NewSubscriber(cfg SubscriberConfig) (*Subscriber, error) {
	if cfg.SubscribeKey == "" {
		return nil, errors.New("pubsub: subscribe key is required")
	}
	if len(cfg.Channels) == 0 {
		return nil, errors.New("pubsub: at least one channel is required")
	}

	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.UUID))
	pnCfg.SubscribeKey = cfg.SubscribeKey
	pnCfg.SecretKey = cfg.SecretKey

	s := &Subscriber{
		pn:       pubnub.NewPubNub(pnCfg),
		listener: pubnub.NewListener(),
		channels: cfg.Channels,
	}
	s.pn.AddListener(s.listener)
	return s, nil
}

// Run subscribes and dispatches messages to handle until ctx is done.
func (s *Subscriber) Run(ctx context.Context, handle MessageHandler) error {
	s.pn.Subscribe().
		Channels(s.channels).
		Execute()
	defer s.pn.UnsubscribeAll()

	return processSubscription(ctx, s.listener, handle)
}

func processSubscription(ctx context.Context, listener *pubnub.Listener, handle MessageHandler) error {
	for {
		select {
		case status := <-listener.Status:
			switch status.Category {
			case pubnub.PNConnectedCategory:
				slog.Info("connected to pubnub")

			case pubnub.PNReconnectedCategory:
				slog.Info("reconnected to pubnub")

			case pubnub.PNDisconnectedCategory:
				slog.Warn("disconnected from pubnub")

			case pubnub.PNAccessDeniedCategory:
				slog.Error("pubnub access denied")

			case pubnub.PNReconnectionAttemptsExhausted:
				slog.Error("pubnub reconnection attempts exhausted")

			case pubnub.PNTimeoutCategory:
				slog.Warn("pubnub timeout")

			default:
				slog.Debug("pubnub status", "category", status.Category)
			}

		case message := <-listener.Message:
			if message == nil {
				continue
			}
			handle(ctx, message.Channel, message.Message)

		case <-ctx.Done():
			slog.Info("pubnub subscription closed")
			return nil
		}
	}
}

// Decode converts a PubNub message body into v. Bodies arrive either as a
// JSON string or as an already decoded map.
func Decode(message any, v any) error {
	var data []byte
	switch m := message.(type) {
	case string:
		data = []byte(m)
	case []byte:
		data = m
	default:
		var err error
		data, err = json.Marshal(m)
		if err != nil {
			return fmt.Errorf("pubsub: re-encode message: %w", err)
		}
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("pubsub: decode message: %w", err)
	}
	return nil
}
