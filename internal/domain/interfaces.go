package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// OfferTx is the view of one item inside a per-item unit of work.
type OfferTx interface {
	Item() *Item
	// MaxOfferAmount reports the highest admitted amount, or false when the
	// item has no offers yet.
	MaxOfferAmount(ctx context.Context) (decimal.Decimal, bool, error)
	// InsertOffer assigns ID and CreatedAt.
	InsertOffer(ctx context.Context, offer *Offer) error
	UpdateCurrentPrice(ctx context.Context, amount decimal.Decimal) error
}

// Repository interfaces
type OfferStore interface {
	// WithItemLock runs fn with exclusive access to itemID. Writes made through
	// the OfferTx are committed only if fn returns nil. Returns ErrItemNotFound
	// for unknown items and wraps ErrStorageConflict on isolation failures.
	WithItemLock(ctx context.Context, itemID string, fn func(ctx context.Context, tx OfferTx) error) error
	TopOffers(ctx context.Context, limit int) ([]*RankedOffer, error)
	CurrentPrice(ctx context.Context, itemID string) (decimal.Decimal, error)
	GetItem(ctx context.Context, itemID string) (*Item, error)
	ListItems(ctx context.Context, filter PriceFilter) ([]*Item, error)
	OffersForItem(ctx context.Context, itemID string) ([]*Offer, error)
}

// Cache interfaces
type RankingCache interface {
	StoreRanking(ctx context.Context, offers []*RankedOffer) error
	LoadRanking(ctx context.Context) ([]*RankedOffer, error)
}

// Event interfaces
type EventPublisher interface {
	PublishPriceEvent(ctx context.Context, event *PriceEvent) error
}

type EventSubscriber interface {
	SubscribeToPriceEvents(ctx context.Context, handler EventHandler) error
}

type EventHandler func(event *PriceEvent) error

// Broadcast interfaces
type PricePublisher interface {
	Publish(itemID string, amount decimal.Decimal)
}

type PriceSubscription interface {
	ID() string
	// Events is closed once the subscription is removed from the hub.
	Events() <-chan PriceEvent
	// Close marks the observer as gone. The hub prunes it on the next publish.
	Close()
}

type PriceBroadcaster interface {
	PricePublisher
	Subscribe() PriceSubscription
	Unsubscribe(sub PriceSubscription)
	Count() int
}

// Leader election interface
type LeaderElection interface {
	BecomeLeader(ctx context.Context, instanceID string) (bool, error)
	IsLeader(ctx context.Context, instanceID string) (bool, error)
	ExtendLeadership(ctx context.Context, instanceID string) (bool, error)
	ReleaseLeadership(ctx context.Context, instanceID string) error
}

// WebSocket interfaces
type WebSocketConnection interface {
	Send(message interface{}) error
	Close() error
	ID() string
}
