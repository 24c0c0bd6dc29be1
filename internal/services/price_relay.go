package services

import (
	"context"
	"time"

	"offer-market/internal/domain"
	"offer-market/pkg/logger"
)

const relayPublishTimeout = 2 * time.Second

// PriceRelay forwards every event from the local hub to an EventPublisher so
// other instances can rebroadcast it.
type PriceRelay struct {
	hub       domain.PriceBroadcaster
	publisher domain.EventPublisher
	log       logger.Logger
}

func NewPriceRelay(hub domain.PriceBroadcaster, publisher domain.EventPublisher, log logger.Logger) *PriceRelay {
	return &PriceRelay{
		hub:       hub,
		publisher: publisher,
		log:       log,
	}
}

// Run blocks until ctx is done. If the hub prunes the relay for falling
// behind, it subscribes again.
func (r *PriceRelay) Run(ctx context.Context) {
	for {
		sub := r.hub.Subscribe()
		r.log.Info("Price relay subscribed", "subscription_id", sub.ID())

		if !r.forward(ctx, sub) {
			r.hub.Unsubscribe(sub)
			return
		}

		r.log.Warn("Price relay subscription dropped, resubscribing", "subscription_id", sub.ID())
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// forward returns true when the subscription closed underneath it.
func (r *PriceRelay) forward(ctx context.Context, sub domain.PriceSubscription) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-sub.Events():
			if !ok {
				return true
			}
			r.publish(ctx, &event)
		}
	}
}

func (r *PriceRelay) publish(ctx context.Context, event *domain.PriceEvent) {
	ctx, cancel := context.WithTimeout(ctx, relayPublishTimeout)
	defer cancel()

	if err := r.publisher.PublishPriceEvent(ctx, event); err != nil {
		r.log.Error("Failed to relay price event", "item_id", event.ItemID, "error", err)
	}
}

// HubEventHandler feeds events received from other instances into hub.
func HubEventHandler(hub domain.PricePublisher) domain.EventHandler {
	return func(event *domain.PriceEvent) error {
		hub.Publish(event.ItemID, event.NewAmount)
		return nil
	}
}
