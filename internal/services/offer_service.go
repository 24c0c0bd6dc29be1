package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"offer-market/internal/domain"
	"offer-market/pkg/logger"

	"github.com/shopspring/decimal"
)

// errOfferRejected aborts the unit of work so a rejected offer leaves no writes.
var errOfferRejected = errors.New("offer rejected")

type AdmissionPolicy struct {
	Baseline     domain.BaselinePolicy
	MaxAttempts  int
	RetryBackoff time.Duration
}

type OfferService struct {
	store     domain.OfferStore
	publisher domain.PricePublisher
	policy    AdmissionPolicy
	log       logger.Logger
}

func NewOfferService(
	store domain.OfferStore,
	publisher domain.PricePublisher,
	policy AdmissionPolicy,
	log logger.Logger,
) *OfferService {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Baseline == "" {
		policy.Baseline = domain.BaselineZero
	}
	return &OfferService{
		store:     store,
		publisher: publisher,
		policy:    policy,
		log:       log,
	}
}

// PlaceOffer admits the offer only if it is strictly above the item's current
// max. Business rejections come back as an Admission; the error return is
// reserved for storage failures and always wraps ErrStorageUnavailable.
func (s *OfferService) PlaceOffer(ctx context.Context, req domain.OfferRequest) (*domain.Admission, error) {
	s.log.Info("Placing offer", "item_id", req.ItemID, "bidder", req.BidderName, "amount", req.Amount.String())

	if err := validateAmount(req.Amount); err != nil {
		s.log.Warn("Offer rejected", "item_id", req.ItemID, "error", err)
		return &domain.Admission{Status: domain.RejectedInvalidAmount}, nil
	}

	var lastErr error
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		admission, err := s.tryAdmit(ctx, req)
		if err == nil {
			s.logOutcome(req, admission)
			if admission.Accepted() {
				s.publisher.Publish(req.ItemID, admission.Offer.Amount)
			}
			return admission, nil
		}

		if !errors.Is(err, domain.ErrStorageConflict) {
			s.log.Error("Offer admission failed", "item_id", req.ItemID, "error", err)
			return nil, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
		}

		lastErr = err
		s.log.Warn("Offer admission conflicted", "item_id", req.ItemID, "attempt", attempt, "error", err)

		if attempt < s.policy.MaxAttempts {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, ctx.Err())
			case <-time.After(s.policy.RetryBackoff * time.Duration(attempt)):
			}
		}
	}

	s.log.Error("Offer admission gave up after conflicts", "item_id", req.ItemID,
		"attempts", s.policy.MaxAttempts)
	return nil, fmt.Errorf("%w: %d attempts: %w", domain.ErrStorageUnavailable, s.policy.MaxAttempts, lastErr)
}

func (s *OfferService) tryAdmit(ctx context.Context, req domain.OfferRequest) (*domain.Admission, error) {
	admission := &domain.Admission{}

	err := s.store.WithItemLock(ctx, req.ItemID, func(ctx context.Context, tx domain.OfferTx) error {
		currentMax, err := s.currentMax(ctx, tx)
		if err != nil {
			return err
		}

		if !req.Amount.GreaterThan(currentMax) {
			admission.Status = domain.RejectedNotHighEnough
			admission.CurrentMax = currentMax
			return errOfferRejected
		}

		offer := &domain.Offer{
			ItemID:      req.ItemID,
			BidderName:  req.BidderName,
			BidderEmail: req.BidderEmail,
			Amount:      req.Amount,
		}
		if err := tx.InsertOffer(ctx, offer); err != nil {
			return err
		}
		if err := tx.UpdateCurrentPrice(ctx, offer.Amount); err != nil {
			return err
		}

		admission.Status = domain.Admitted
		admission.Offer = offer
		admission.CurrentMax = offer.Amount
		return nil
	})

	switch {
	case err == nil, errors.Is(err, errOfferRejected):
		return admission, nil
	case errors.Is(err, domain.ErrItemNotFound):
		return &domain.Admission{Status: domain.RejectedItemNotFound}, nil
	default:
		return nil, err
	}
}

func (s *OfferService) currentMax(ctx context.Context, tx domain.OfferTx) (decimal.Decimal, error) {
	max, hasOffers, err := tx.MaxOfferAmount(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if hasOffers {
		return max, nil
	}
	if s.policy.Baseline == domain.BaselineListingPrice {
		return tx.Item().ListingPrice, nil
	}
	return decimal.Zero, nil
}

func (s *OfferService) logOutcome(req domain.OfferRequest, admission *domain.Admission) {
	switch admission.Status {
	case domain.Admitted:
		s.log.Info("Offer admitted", "item_id", req.ItemID, "offer_id", admission.Offer.ID,
			"amount", admission.Offer.Amount.String())
	case domain.RejectedNotHighEnough:
		s.log.Info("Offer rejected", "item_id", req.ItemID, "reason", admission.Status.String(),
			"amount", req.Amount.String(), "current_max", admission.CurrentMax.String())
	default:
		s.log.Info("Offer rejected", "item_id", req.ItemID, "reason", admission.Status.String())
	}
}

// CurrentPrice reads the item's price projection.
func (s *OfferService) CurrentPrice(ctx context.Context, itemID string) (decimal.Decimal, error) {
	price, err := s.store.CurrentPrice(ctx, itemID)
	if err != nil {
		if errors.Is(err, domain.ErrItemNotFound) {
			return decimal.Zero, err
		}
		return decimal.Zero, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}
	return price, nil
}

// validateAmount accepts positive amounts with at most two decimal places, up
// to MaxOfferAmount.
func validateAmount(amount decimal.Decimal) error {
	switch {
	case !amount.IsPositive():
		return fmt.Errorf("%w: %s is not positive", domain.ErrInvalidAmount, amount)
	case !amount.Equal(amount.Round(2)):
		return fmt.Errorf("%w: %s has more than two decimal places", domain.ErrInvalidAmount, amount)
	case amount.GreaterThan(domain.MaxOfferAmount):
		return fmt.Errorf("%w: %s exceeds %s", domain.ErrInvalidAmount, amount, domain.MaxOfferAmount.StringFixed(2))
	}
	return nil
}
