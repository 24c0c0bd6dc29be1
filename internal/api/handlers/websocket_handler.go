package handlers

import (
	"net/http"

	"offer-market/internal/infrastructure/websocket"
	"offer-market/pkg/logger"

	"github.com/labstack/echo/v4"
)

// WebSocketHandlers exposes the price stream to both routers: mux in
// price-stream-service and echo in offer-service.
type WebSocketHandlers struct {
	wsHandler *websocket.WebSocketHandler
}

func NewWebSocketHandlers(connManager *websocket.ConnectionManager, log logger.Logger) *WebSocketHandlers {
	return &WebSocketHandlers{
		wsHandler: websocket.NewWebSocketHandler(connManager, log),
	}
}

func (h *WebSocketHandlers) HandleConnection(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleConnection(w, r)
}

func (h *WebSocketHandlers) Echo() echo.HandlerFunc {
	return echo.WrapHandler(http.HandlerFunc(h.HandleConnection))
}
