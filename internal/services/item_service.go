package services

import (
	"context"
	"errors"
	"fmt"

	"offer-market/internal/domain"
	"offer-market/pkg/logger"
)

// ItemService serves the read-only catalog views.
type ItemService struct {
	store domain.OfferStore
	log   logger.Logger
}

func NewItemService(store domain.OfferStore, log logger.Logger) *ItemService {
	return &ItemService{
		store: store,
		log:   log,
	}
}

func (s *ItemService) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, storageError(err)
	}
	return item, nil
}

func (s *ItemService) ListItems(ctx context.Context, filter domain.PriceFilter) ([]*domain.Item, error) {
	items, err := s.store.ListItems(ctx, filter)
	if err != nil {
		s.log.Error("Failed to list items", "error", err)
		return nil, storageError(err)
	}
	return items, nil
}

func (s *ItemService) OffersForItem(ctx context.Context, itemID string) ([]*domain.Offer, error) {
	offers, err := s.store.OffersForItem(ctx, itemID)
	if err != nil {
		return nil, storageError(err)
	}
	return offers, nil
}

// storageError passes ErrItemNotFound through and marks everything else as
// ErrStorageUnavailable.
func storageError(err error) error {
	if errors.Is(err, domain.ErrItemNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
}
