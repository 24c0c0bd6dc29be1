package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"offer-market/internal/domain"
	"offer-market/internal/services"
	"offer-market/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type OfferHandler struct {
	offerService   *services.OfferService
	itemService    *services.ItemService
	rankingService *services.RankingService
	log            logger.Logger
}

// PlaceOfferRequest accepts JSON or form bodies. Amount may be a JSON number
// or a numeric string.
type PlaceOfferRequest struct {
	BidderName  string      `json:"bidder_name" form:"bidder_name"`
	BidderEmail string      `json:"bidder_email" form:"bidder_email"`
	Amount      json.Number `json:"amount" form:"amount"`
}

type PlaceOfferResponse struct {
	Status       string        `json:"status"`
	Offer        *domain.Offer `json:"offer"`
	CurrentPrice string        `json:"current_price"`
}

type RejectionResponse struct {
	Error      string `json:"error"`
	Status     string `json:"status"`
	CurrentMax string `json:"current_max,omitempty"`
}

type PriceResponse struct {
	ItemID       string `json:"item_id"`
	CurrentPrice string `json:"current_price"`
}

func NewOfferHandler(offerService *services.OfferService, itemService *services.ItemService,
	rankingService *services.RankingService, log logger.Logger) *OfferHandler {
	return &OfferHandler{
		offerService:   offerService,
		itemService:    itemService,
		rankingService: rankingService,
		log:            log,
	}
}

func (h *OfferHandler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api/v1")
	api.GET("/items", h.ListItems)
	api.GET("/items/:id", h.GetItem)
	api.GET("/items/:id/price", h.CurrentPrice)
	api.GET("/items/:id/offers", h.ListOffers)
	api.POST("/items/:id/offers", h.PlaceOffer)
	api.GET("/ranking", h.TopOffers)
	api.GET("/ranking/snapshot", h.RankingSnapshot)
}

func (h *OfferHandler) PlaceOffer(c echo.Context) error {
	itemID := c.Param("id")

	var req PlaceOfferRequest
	if err := c.Bind(&req); err != nil {
		h.log.Error("Failed to bind request", "item_id", itemID, "error", err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	amount, err := decimal.NewFromString(req.Amount.String())
	if err != nil {
		return c.JSON(http.StatusBadRequest, RejectionResponse{
			Error:  "Amount must be a number",
			Status: domain.RejectedInvalidAmount.String(),
		})
	}

	admission, err := h.offerService.PlaceOffer(c.Request().Context(), domain.OfferRequest{
		ItemID:      itemID,
		BidderName:  req.BidderName,
		BidderEmail: req.BidderEmail,
		Amount:      amount,
	})
	if err != nil {
		return h.storageFailure(c, err)
	}

	switch admission.Status {
	case domain.Admitted:
		return c.JSON(http.StatusCreated, PlaceOfferResponse{
			Status:       admission.Status.String(),
			Offer:        admission.Offer,
			CurrentPrice: admission.CurrentMax.StringFixed(2),
		})
	case domain.RejectedNotHighEnough:
		return c.JSON(http.StatusConflict, RejectionResponse{
			Error:      "Offer must be higher than the current highest offer",
			Status:     admission.Status.String(),
			CurrentMax: admission.CurrentMax.StringFixed(2),
		})
	case domain.RejectedItemNotFound:
		return c.JSON(http.StatusNotFound, RejectionResponse{
			Error:  "Item not found",
			Status: admission.Status.String(),
		})
	default:
		return c.JSON(http.StatusBadRequest, RejectionResponse{
			Error:  "Amount must be positive, at most " + domain.MaxOfferAmount.StringFixed(2) + ", with at most two decimal places",
			Status: admission.Status.String(),
		})
	}
}

func (h *OfferHandler) CurrentPrice(c echo.Context) error {
	itemID := c.Param("id")

	price, err := h.offerService.CurrentPrice(c.Request().Context(), itemID)
	if err != nil {
		return h.readFailure(c, err)
	}

	return c.JSON(http.StatusOK, PriceResponse{
		ItemID:       itemID,
		CurrentPrice: price.StringFixed(2),
	})
}

func (h *OfferHandler) GetItem(c echo.Context) error {
	item, err := h.itemService.GetItem(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.readFailure(c, err)
	}
	return c.JSON(http.StatusOK, item)
}

// ListItems takes optional min_price and max_price bounds. Unparseable bounds
// are ignored.
func (h *OfferHandler) ListItems(c echo.Context) error {
	filter := domain.PriceFilter{
		Min: parseBound(c.QueryParam("min_price")),
		Max: parseBound(c.QueryParam("max_price")),
	}

	items, err := h.itemService.ListItems(c.Request().Context(), filter)
	if err != nil {
		return h.readFailure(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *OfferHandler) ListOffers(c echo.Context) error {
	offers, err := h.itemService.OffersForItem(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.readFailure(c, err)
	}
	return c.JSON(http.StatusOK, offers)
}

func (h *OfferHandler) TopOffers(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be an integer"})
		}
		limit = n
	}

	ranked, err := h.rankingService.TopOffers(c.Request().Context(), limit)
	if err != nil {
		return h.readFailure(c, err)
	}
	return c.JSON(http.StatusOK, ranked)
}

// RankingSnapshot serves the ranking last written by the snapshot job.
func (h *OfferHandler) RankingSnapshot(c echo.Context) error {
	ranked, err := h.rankingService.SnapshotTopOffers(c.Request().Context())
	if err != nil {
		return h.storageFailure(c, err)
	}
	return c.JSON(http.StatusOK, ranked)
}

func (h *OfferHandler) readFailure(c echo.Context, err error) error {
	if errors.Is(err, domain.ErrItemNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Item not found"})
	}
	return h.storageFailure(c, err)
}

func (h *OfferHandler) storageFailure(c echo.Context, err error) error {
	h.log.Error("Request failed", "path", c.Path(), "error", err)
	if errors.Is(err, domain.ErrStorageUnavailable) {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Storage unavailable, try again"})
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal error"})
}

func parseBound(raw string) decimal.NullDecimal {
	if raw == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
