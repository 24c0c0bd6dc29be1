package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is a catalog entry that buyers bid on. CurrentPrice is a projection
// maintained by offer admission; ListingPrice never changes.
type Item struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	ListingPrice decimal.Decimal `json:"listing_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	ImageURL     string          `json:"image_url"`
}

// Offer is an admitted bid. Offers are never updated or deleted.
type Offer struct {
	ID          int64           `json:"id"`
	ItemID      string          `json:"item_id"`
	BidderName  string          `json:"bidder_name"`
	BidderEmail string          `json:"bidder_email"`
	Amount      decimal.Decimal `json:"amount"`
	CreatedAt   time.Time       `json:"created_at"`
}

type RankedOffer struct {
	ItemName    string          `json:"item_name"`
	BidderName  string          `json:"bidder_name"`
	BidderEmail string          `json:"bidder_email"`
	Amount      decimal.Decimal `json:"amount"`
	CreatedAt   time.Time       `json:"created_at"`
}

type PriceEvent struct {
	ItemID      string          `json:"item_id"`
	NewAmount   decimal.Decimal `json:"new_amount"`
	PublishedAt time.Time       `json:"published_at"`
}

// MaxOfferAmount is the largest amount a DECIMAL(12,2) price column holds.
var MaxOfferAmount = decimal.New(999999999999, -2)

type OfferRequest struct {
	ItemID      string
	BidderName  string
	BidderEmail string
	Amount      decimal.Decimal
}

type AdmissionStatus int

const (
	Admitted AdmissionStatus = iota
	RejectedNotHighEnough
	RejectedItemNotFound
	RejectedInvalidAmount
)

func (s AdmissionStatus) String() string {
	switch s {
	case Admitted:
		return "admitted"
	case RejectedNotHighEnough:
		return "not_high_enough"
	case RejectedItemNotFound:
		return "item_not_found"
	case RejectedInvalidAmount:
		return "invalid_amount"
	default:
		return "unknown"
	}
}

// Admission is the outcome of PlaceOffer. Offer is set only when Status is
// Admitted. CurrentMax is the amount the offer was compared against on
// rejection, or the new price on admission.
type Admission struct {
	Status     AdmissionStatus
	Offer      *Offer
	CurrentMax decimal.Decimal
}

func (a *Admission) Accepted() bool {
	return a != nil && a.Status == Admitted
}

// BaselinePolicy decides the comparison floor for an item with no offers.
type BaselinePolicy string

const (
	BaselineZero         BaselinePolicy = "zero"
	BaselineListingPrice BaselinePolicy = "listing_price"
)

// PriceFilter bounds ListItems by current price, inclusive. Invalid bounds are ignored.
type PriceFilter struct {
	Min decimal.NullDecimal
	Max decimal.NullDecimal
}

func (f PriceFilter) Matches(price decimal.Decimal) bool {
	if f.Min.Valid && price.LessThan(f.Min.Decimal) {
		return false
	}
	if f.Max.Valid && price.GreaterThan(f.Max.Decimal) {
		return false
	}
	return true
}
