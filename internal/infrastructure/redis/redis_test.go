package redis

import (
	"context"
	"testing"
	"time"

	"offer-market/internal/domain"
	"offer-market/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRankingCacheRoundTrip(t *testing.T) {
	client, _ := newTestClient(t)
	cache := NewRedisRankingCache(client, "ranking:top_offers")
	ctx := context.Background()

	empty, err := cache.LoadRanking(ctx)
	if err != nil {
		t.Fatalf("load before store: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty ranking before first snapshot, got %#v", empty)
	}

	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ranked := []*domain.RankedOffer{
		{ItemName: "Vintage Guitar", BidderName: "carol", Amount: decimal.RequireFromString("300.00"), CreatedAt: at},
		{ItemName: "Signed Baseball", BidderName: "bob", Amount: decimal.RequireFromString("250.50"), CreatedAt: at},
	}
	if err := cache.StoreRanking(ctx, ranked); err != nil {
		t.Fatalf("store ranking: %v", err)
	}

	loaded, err := cache.LoadRanking(ctx)
	if err != nil {
		t.Fatalf("load ranking: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(loaded))
	}
	if loaded[1].ItemName != "Signed Baseball" || !loaded[1].Amount.Equal(decimal.RequireFromString("250.50")) {
		t.Fatalf("unexpected second entry %+v", loaded[1])
	}
	if !loaded[0].CreatedAt.Equal(at) {
		t.Fatalf("expected created_at %v, got %v", at, loaded[0].CreatedAt)
	}
}

func TestPriceEventsRelayThroughRedis(t *testing.T) {
	client, _ := newTestClient(t)
	publisher := NewEventPublisher(client, "price_events")
	subscriber := NewRedisEventSubscriber(client, "price_events", logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *domain.PriceEvent, 16)
	done := make(chan error, 1)
	go func() {
		done <- subscriber.SubscribeToPriceEvents(ctx, func(event *domain.PriceEvent) error {
			received <- event
			return nil
		})
	}()

	event := &domain.PriceEvent{ItemID: "item-a", NewAmount: decimal.RequireFromString("125.75")}

	// The subscriber may not be registered yet, so keep publishing until it is.
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(3 * time.Second)

	var got *domain.PriceEvent
	for got == nil {
		select {
		case got = <-received:
		case <-ticker.C:
			if err := publisher.PublishPriceEvent(ctx, event); err != nil {
				t.Fatalf("publish: %v", err)
			}
		case <-deadline:
			t.Fatal("timed out waiting for relayed event")
		}
	}

	if got.ItemID != "item-a" || !got.NewAmount.Equal(event.NewAmount) {
		t.Fatalf("unexpected relayed event %+v", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop after cancel")
	}
}

func TestParseEventDataRejectsGarbage(t *testing.T) {
	for _, payload := range []string{"not json", `{"new_amount":"5"}`} {
		if _, err := parseEventData(payload); err == nil {
			t.Fatalf("expected %q to be rejected", payload)
		}
	}
}
