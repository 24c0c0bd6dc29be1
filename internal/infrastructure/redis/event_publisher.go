package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"offer-market/internal/domain"

	"github.com/go-redis/redis/v8"
)

type EventPublisherImpl struct {
	client  *redis.Client
	channel string
}

func NewEventPublisher(client *redis.Client, channel string) *EventPublisherImpl {
	return &EventPublisherImpl{
		client:  client,
		channel: channel,
	}
}

func (r *EventPublisherImpl) PublishPriceEvent(ctx context.Context, event *domain.PriceEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode price event: %w", err)
	}

	return r.client.Publish(ctx, r.channel, payload).Err()
}
