package services

import (
	"context"
	"sync"
	"time"

	"offer-market/internal/domain"
	"offer-market/pkg/logger"
	"offer-market/pkg/utils"

	"github.com/shopspring/decimal"
)

type subscription struct {
	id        string
	events    chan domain.PriceEvent
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscription) ID() string {
	return s.id
}

func (s *subscription) Events() <-chan domain.PriceEvent {
	return s.events
}

func (s *subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *subscription) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// PriceHub fans price events out to live subscribers. Publish only enqueues;
// a single dispatcher started by Run delivers events in publish order.
//
// Not every publish reaches subscribers: an event whose amount is not above
// the last amount dispatched for the same item is dropped, so subscribers
// only ever see an item's price rise. Events are also dropped when the inbox
// is full. Transports must treat each event as the latest known price, not as
// a complete offer log.
type PriceHub struct {
	subscribers map[string]*subscription
	mutex       sync.RWMutex
	stopped     bool

	inbox      chan domain.PriceEvent
	bufferSize int
	// lastDispatched is owned by the dispatcher goroutine.
	lastDispatched map[string]decimal.Decimal

	clock func() time.Time
	log   logger.Logger
}

func NewPriceHub(inboxSize, subscriberBuffer int, log logger.Logger) *PriceHub {
	if inboxSize < 1 {
		inboxSize = 1
	}
	if subscriberBuffer < 1 {
		subscriberBuffer = 1
	}
	return &PriceHub{
		subscribers:    make(map[string]*subscription),
		inbox:          make(chan domain.PriceEvent, inboxSize),
		bufferSize:     subscriberBuffer,
		lastDispatched: make(map[string]decimal.Decimal),
		clock:          func() time.Time { return time.Now().UTC() },
		log:            log,
	}
}

func (h *PriceHub) Subscribe() domain.PriceSubscription {
	sub := &subscription{
		id:     utils.GenerateID("sub"),
		events: make(chan domain.PriceEvent, h.bufferSize),
		done:   make(chan struct{}),
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.stopped {
		sub.Close()
		close(sub.events)
		return sub
	}
	h.subscribers[sub.id] = sub

	h.log.Debug("Subscriber registered", "subscription_id", sub.id, "subscribers", len(h.subscribers))
	return sub
}

// Unsubscribe is safe to call more than once and on subscriptions the hub
// already pruned.
func (h *PriceHub) Unsubscribe(ps domain.PriceSubscription) {
	sub, ok := ps.(*subscription)
	if !ok || sub == nil {
		return
	}
	sub.Close()
	h.remove(sub, "unsubscribed")
}

// Publish never blocks. If the dispatcher has fallen behind far enough to
// fill the inbox, the event is dropped.
func (h *PriceHub) Publish(itemID string, amount decimal.Decimal) {
	event := domain.PriceEvent{
		ItemID:      itemID,
		NewAmount:   amount,
		PublishedAt: h.clock(),
	}

	select {
	case h.inbox <- event:
	default:
		h.log.Warn("Price hub inbox full, dropping event", "item_id", itemID, "amount", amount.String())
	}
}

func (h *PriceHub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.subscribers)
}

// Run dispatches queued events until ctx is done, then closes every
// subscription.
func (h *PriceHub) Run(ctx context.Context) {
	h.log.Info("Price hub started")
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("Price hub stopping")
			return
		case event := <-h.inbox:
			h.dispatch(event)
		}
	}
}

func (h *PriceHub) dispatch(event domain.PriceEvent) {
	// Admitted amounts only grow, so anything not above the last dispatched
	// amount for the item was overtaken by a later admission.
	if last, ok := h.lastDispatched[event.ItemID]; ok && !event.NewAmount.GreaterThan(last) {
		h.log.Debug("Dropping stale price event", "item_id", event.ItemID,
			"amount", event.NewAmount.String(), "last", last.String())
		return
	}
	h.lastDispatched[event.ItemID] = event.NewAmount

	var dead []*subscription

	h.mutex.RLock()
	for _, sub := range h.subscribers {
		if !deliver(sub, event) {
			dead = append(dead, sub)
		}
	}
	h.mutex.RUnlock()

	for _, sub := range dead {
		reason := "buffer full"
		if sub.closed() {
			reason = "disconnected"
		}
		h.remove(sub, reason)
	}
}

func deliver(sub *subscription, event domain.PriceEvent) bool {
	if sub.closed() {
		return false
	}
	select {
	case sub.events <- event:
		return true
	default:
		return false
	}
}

// remove closes the events channel under the write lock so no dispatcher
// send can race it.
func (h *PriceHub) remove(sub *subscription, reason string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if current, ok := h.subscribers[sub.id]; !ok || current != sub {
		return
	}
	delete(h.subscribers, sub.id)
	sub.Close()
	close(sub.events)

	h.log.Info("Subscriber removed", "subscription_id", sub.id, "reason", reason,
		"subscribers", len(h.subscribers))
}

func (h *PriceHub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for id, sub := range h.subscribers {
		delete(h.subscribers, id)
		sub.Close()
		close(sub.events)
	}
	h.stopped = true
}
