// Package memory provides a concurrent in-memory OfferStore. Admission is
// serialized per item; reads only take the store-wide read lock briefly.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"offer-market/internal/domain"

	"github.com/shopspring/decimal"
)

type itemEntry struct {
	// lock serializes units of work on this item. The fields below are
	// guarded by OfferStore.mutex.
	lock      sync.Mutex
	item      domain.Item
	maxAmount decimal.Decimal
	hasOffers bool
	lastAt    time.Time
}

type OfferStore struct {
	items  map[string]*itemEntry
	offers []*domain.Offer
	nextID int64
	mutex  sync.RWMutex
	clock  func() time.Time
}

type Option func(*OfferStore)

func WithClock(clock func() time.Time) Option {
	return func(s *OfferStore) {
		s.clock = clock
	}
}

func NewOfferStore(opts ...Option) *OfferStore {
	s := &OfferStore{
		items: make(map[string]*itemEntry),
		clock: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddItem registers a catalog item. A zero CurrentPrice starts at ListingPrice.
func (s *OfferStore) AddItem(item domain.Item) error {
	if item.ID == "" {
		return fmt.Errorf("item id is required")
	}
	if item.ListingPrice.IsNegative() {
		return fmt.Errorf("item %s: negative listing price", item.ID)
	}
	if item.CurrentPrice.IsZero() {
		item.CurrentPrice = item.ListingPrice
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.items[item.ID]; exists {
		return fmt.Errorf("item %s already exists", item.ID)
	}
	s.items[item.ID] = &itemEntry{item: item}
	return nil
}

// LoadCatalog seeds the store from a JSON array of items.
func (s *OfferStore) LoadCatalog(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read catalog: %w", err)
	}

	var items []domain.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return 0, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}

	for _, item := range items {
		if err := s.AddItem(item); err != nil {
			return 0, err
		}
	}
	return len(items), nil
}

func (s *OfferStore) WithItemLock(ctx context.Context, itemID string, fn func(ctx context.Context, tx domain.OfferTx) error) error {
	s.mutex.RLock()
	entry, ok := s.items[itemID]
	s.mutex.RUnlock()
	if !ok {
		return domain.ErrItemNotFound
	}

	entry.lock.Lock()
	defer entry.lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mutex.RLock()
	snapshot := entry.item
	s.mutex.RUnlock()

	tx := &offerTx{store: s, entry: entry, item: snapshot}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.commit(tx)
	return nil
}

func (s *OfferStore) commit(tx *offerTx) {
	if len(tx.inserted) == 0 && tx.newPrice == nil {
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry := tx.entry
	for _, offer := range tx.inserted {
		s.offers = append(s.offers, offer)
		if !entry.hasOffers || offer.Amount.GreaterThan(entry.maxAmount) {
			entry.maxAmount = offer.Amount
		}
		entry.hasOffers = true
		entry.lastAt = offer.CreatedAt
	}
	if tx.newPrice != nil {
		entry.item.CurrentPrice = *tx.newPrice
	}
}

func (s *OfferStore) TopOffers(ctx context.Context, limit int) ([]*domain.RankedOffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mutex.RLock()
	offers := make([]*domain.Offer, len(s.offers))
	copy(offers, s.offers)
	names := make(map[string]string, len(s.items))
	for id, entry := range s.items {
		names[id] = entry.item.Name
	}
	s.mutex.RUnlock()

	sort.SliceStable(offers, func(i, j int) bool {
		return rankedBefore(offers[i], offers[j])
	})

	if limit >= 0 && len(offers) > limit {
		offers = offers[:limit]
	}

	ranked := make([]*domain.RankedOffer, 0, len(offers))
	for _, offer := range offers {
		ranked = append(ranked, &domain.RankedOffer{
			ItemName:    names[offer.ItemID],
			BidderName:  offer.BidderName,
			BidderEmail: offer.BidderEmail,
			Amount:      offer.Amount,
			CreatedAt:   offer.CreatedAt,
		})
	}
	return ranked, nil
}

// rankedBefore orders by amount descending, then earliest CreatedAt, then ID.
func rankedBefore(a, b *domain.Offer) bool {
	if c := a.Amount.Cmp(b.Amount); c != 0 {
		return c > 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (s *OfferStore) CurrentPrice(ctx context.Context, itemID string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	entry, ok := s.items[itemID]
	if !ok {
		return decimal.Zero, domain.ErrItemNotFound
	}
	return entry.item.CurrentPrice, nil
}

func (s *OfferStore) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	entry, ok := s.items[itemID]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	item := entry.item
	return &item, nil
}

func (s *OfferStore) ListItems(ctx context.Context, filter domain.PriceFilter) ([]*domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mutex.RLock()
	items := make([]*domain.Item, 0, len(s.items))
	for _, entry := range s.items {
		if !filter.Matches(entry.item.CurrentPrice) {
			continue
		}
		item := entry.item
		items = append(items, &item)
	}
	s.mutex.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *OfferStore) OffersForItem(ctx context.Context, itemID string) ([]*domain.Offer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mutex.RLock()
	if _, ok := s.items[itemID]; !ok {
		s.mutex.RUnlock()
		return nil, domain.ErrItemNotFound
	}
	offers := make([]*domain.Offer, 0)
	for _, offer := range s.offers {
		if offer.ItemID == itemID {
			o := *offer
			offers = append(offers, &o)
		}
	}
	s.mutex.RUnlock()

	sort.SliceStable(offers, func(i, j int) bool {
		return rankedBefore(offers[i], offers[j])
	})
	return offers, nil
}

// offerTx stages writes until the unit of work returns without error.
type offerTx struct {
	store    *OfferStore
	entry    *itemEntry
	item     domain.Item
	inserted []*domain.Offer
	newPrice *decimal.Decimal
}

func (tx *offerTx) Item() *domain.Item {
	item := tx.item
	return &item
}

func (tx *offerTx) MaxOfferAmount(ctx context.Context) (decimal.Decimal, bool, error) {
	tx.store.mutex.RLock()
	max, has := tx.entry.maxAmount, tx.entry.hasOffers
	tx.store.mutex.RUnlock()

	for _, offer := range tx.inserted {
		if !has || offer.Amount.GreaterThan(max) {
			max = offer.Amount
			has = true
		}
	}
	return max, has, nil
}

func (tx *offerTx) InsertOffer(ctx context.Context, offer *domain.Offer) error {
	if offer.ItemID != tx.item.ID {
		return fmt.Errorf("offer for item %s inserted under lock of item %s", offer.ItemID, tx.item.ID)
	}

	tx.store.mutex.Lock()
	tx.store.nextID++
	offer.ID = tx.store.nextID
	last := tx.entry.lastAt
	tx.store.mutex.Unlock()

	if n := len(tx.inserted); n > 0 {
		last = tx.inserted[n-1].CreatedAt
	}

	// CreatedAt never goes backwards for an item, even if the clock does.
	createdAt := tx.store.clock()
	if createdAt.Before(last) {
		createdAt = last
	}
	offer.CreatedAt = createdAt

	stored := *offer
	tx.inserted = append(tx.inserted, &stored)
	return nil
}

func (tx *offerTx) UpdateCurrentPrice(ctx context.Context, amount decimal.Decimal) error {
	tx.newPrice = &amount
	return nil
}
