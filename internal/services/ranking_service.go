package services

import (
	"context"

	"offer-market/internal/domain"
	"offer-market/pkg/logger"
)

type RankingService struct {
	store        domain.OfferStore
	snapshots    domain.RankingCache
	defaultLimit int
	maxLimit     int
	log          logger.Logger
}

func NewRankingService(store domain.OfferStore, defaultLimit, maxLimit int, log logger.Logger) *RankingService {
	if defaultLimit < 1 {
		defaultLimit = 10
	}
	if maxLimit < defaultLimit {
		maxLimit = defaultLimit
	}
	return &RankingService{
		store:        store,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		log:          log,
	}
}

// TopOffers returns the n highest offers across all items, highest first and
// earliest first among equal amounts. n <= 0 selects the default page size.
func (s *RankingService) TopOffers(ctx context.Context, n int) ([]*domain.RankedOffer, error) {
	limit := s.limit(n)

	ranked, err := s.store.TopOffers(ctx, limit)
	if err != nil {
		s.log.Error("Failed to load top offers", "limit", limit, "error", err)
		return nil, storageError(err)
	}
	return ranked, nil
}

// UseSnapshots makes SnapshotTopOffers read from cache.
func (s *RankingService) UseSnapshots(cache domain.RankingCache) {
	s.snapshots = cache
}

// SnapshotTopOffers returns the last stored ranking snapshot. Without a
// snapshot cache it falls back to a live TopOffers at the default page size.
func (s *RankingService) SnapshotTopOffers(ctx context.Context) ([]*domain.RankedOffer, error) {
	if s.snapshots == nil {
		return s.TopOffers(ctx, 0)
	}

	ranked, err := s.snapshots.LoadRanking(ctx)
	if err != nil {
		s.log.Error("Failed to load ranking snapshot", "error", err)
		return nil, storageError(err)
	}
	return ranked, nil
}

func (s *RankingService) limit(n int) int {
	switch {
	case n <= 0:
		return s.defaultLimit
	case n > s.maxLimit:
		return s.maxLimit
	default:
		return n
	}
}
