package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"offer-market/internal/domain"
	"offer-market/pkg/logger"

	"github.com/go-redis/redis/v8"
)

type RedisEventSubscriber struct {
	client  *redis.Client
	channel string
	log     logger.Logger
}

func NewRedisEventSubscriber(client *redis.Client, channel string, log logger.Logger) *RedisEventSubscriber {
	return &RedisEventSubscriber{
		client:  client,
		channel: channel,
		log:     log,
	}
}

// SubscribeToPriceEvents blocks, feeding every decoded event to handler until
// ctx is done or the subscription drops.
func (r *RedisEventSubscriber) SubscribeToPriceEvents(ctx context.Context, handler domain.EventHandler) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before consuming.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	ch := pubsub.Channel()

	r.log.Info("Subscribed to price events", "channel", r.channel)

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return errors.New("price event subscription closed")
			}

			event, err := parseEventData(msg.Payload)
			if err != nil {
				r.log.Error("Failed to parse event", "payload", msg.Payload, "error", err)
				continue
			}

			if err := handler(event); err != nil {
				r.log.Error("Failed to handle event", "item_id", event.ItemID, "error", err)
			}

		case <-ctx.Done():
			r.log.Info("Event subscriber stopped")
			return ctx.Err()
		}
	}
}

func parseEventData(payload string) (*domain.PriceEvent, error) {
	var event domain.PriceEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, err
	}
	if event.ItemID == "" {
		return nil, fmt.Errorf("price event without item id: %s", payload)
	}
	return &event, nil
}
