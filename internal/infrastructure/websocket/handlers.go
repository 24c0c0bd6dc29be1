package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"offer-market/pkg/logger"
	"offer-market/pkg/utils"

	"github.com/gorilla/websocket"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Viewers connect from any origin; the stream is read-only.
	},
}

type WebSocketHandler struct {
	connManager *ConnectionManager
	log         logger.Logger
}

func NewWebSocketHandler(connManager *ConnectionManager, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		connManager: connManager,
		log:         log,
	}
}

// HandleConnection upgrades the request and streams price updates. The
// optional item_id query parameter limits the stream to one item.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	itemID := r.URL.Query().Get("item_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	wsConn := NewWebSocketConnection(conn, utils.GenerateID("ws"), h.log)
	h.connManager.RegisterConnection(wsConn, itemID)

	go h.handleMessages(wsConn)
}

// handleMessages owns the read side. Viewers only send keepalives; anything
// else is ignored.
func (h *WebSocketHandler) handleMessages(conn *WebSocketConnection) {
	stop := make(chan struct{})
	defer func() {
		close(stop)
		h.connManager.UnregisterConnection(conn.ID())
	}()

	go h.keepAlive(conn, stop)

	conn.conn.SetReadLimit(maxMessageSize)
	_ = conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Error("Failed to read message", "conn_id", conn.ID(), "error", err)
			}
			return
		}

		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		if msg.Type == "ping" {
			if err := conn.Send(map[string]string{"type": "pong"}); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) keepAlive(conn *WebSocketConnection, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				h.log.Debug("Ping failed", "conn_id", conn.ID(), "error", err)
				return
			}
		}
	}
}
