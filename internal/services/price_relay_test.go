package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"offer-market/internal/domain"
	"offer-market/pkg/logger"

	"github.com/shopspring/decimal"
)

type eventRecorder struct {
	mutex  sync.Mutex
	events []*domain.PriceEvent
	fail   bool
}

func (r *eventRecorder) PublishPriceEvent(ctx context.Context, event *domain.PriceEvent) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, event)
	if r.fail {
		return errors.New("redis down")
	}
	return nil
}

func (r *eventRecorder) count() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.events)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPriceRelayForwardsHubEvents(t *testing.T) {
	hub := NewPriceHub(16, 16, logger.NewNop())
	recorder := &eventRecorder{fail: true}
	relay := NewPriceRelay(hub, recorder, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	waitFor(t, "relay subscription", func() bool { return hub.Count() == 1 })

	hub.Publish("item-a", decimal.RequireFromString("10"))
	hub.Publish("item-a", decimal.RequireFromString("11"))

	// Publish failures are logged, not fatal to the relay.
	waitFor(t, "relayed events", func() bool { return recorder.count() == 2 })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}

func TestHubEventHandlerPublishesToHub(t *testing.T) {
	recorder := &publishRecorder{}
	handler := HubEventHandler(recorder)

	event := &domain.PriceEvent{ItemID: "item-b", NewAmount: decimal.RequireFromString("42.10")}
	if err := handler(event); err != nil {
		t.Fatalf("handler: %v", err)
	}

	published := recorder.published()
	if len(published) != 1 || published[0].ItemID != "item-b" || !published[0].NewAmount.Equal(event.NewAmount) {
		t.Fatalf("unexpected hub publishes %+v", published)
	}
}
