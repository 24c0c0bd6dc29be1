package websocket

import (
	"sync"
	"time"

	"offer-market/internal/domain"
	"offer-market/pkg/logger"
)

const PriceUpdateType = "PRICE_UPDATE"

type PriceUpdateMessage struct {
	Type        string    `json:"type"`
	ItemID      string    `json:"itemId"`
	NewPrice    string    `json:"newPrice"`
	PublishedAt time.Time `json:"publishedAt"`
}

func NewPriceUpdateMessage(event domain.PriceEvent) PriceUpdateMessage {
	return PriceUpdateMessage{
		Type:        PriceUpdateType,
		ItemID:      event.ItemID,
		NewPrice:    event.NewAmount.StringFixed(2),
		PublishedAt: event.PublishedAt,
	}
}

type client struct {
	conn   domain.WebSocketConnection
	sub    domain.PriceSubscription
	itemID string // empty means every item
}

// ConnectionManager turns each live connection into one hub subscriber and
// pumps matching price events onto it.
type ConnectionManager struct {
	hub         domain.PriceBroadcaster
	connections map[string]*client // connID -> client
	mutex       sync.RWMutex
	log         logger.Logger
}

func NewConnectionManager(hub domain.PriceBroadcaster, log logger.Logger) *ConnectionManager {
	return &ConnectionManager{
		hub:         hub,
		connections: make(map[string]*client),
		log:         log,
	}
}

func (cm *ConnectionManager) RegisterConnection(conn domain.WebSocketConnection, itemID string) {
	c := &client{
		conn:   conn,
		sub:    cm.hub.Subscribe(),
		itemID: itemID,
	}

	cm.mutex.Lock()
	cm.connections[conn.ID()] = c
	cm.mutex.Unlock()

	cm.log.Info("Connection registered", "conn_id", conn.ID(), "item_id", itemID,
		"subscription_id", c.sub.ID())

	go cm.pump(c)
}

// UnregisterConnection is idempotent.
func (cm *ConnectionManager) UnregisterConnection(connID string) {
	cm.mutex.Lock()
	c, exists := cm.connections[connID]
	if exists {
		delete(cm.connections, connID)
	}
	cm.mutex.Unlock()

	if !exists {
		return
	}

	cm.hub.Unsubscribe(c.sub)
	if err := c.conn.Close(); err != nil {
		cm.log.Debug("Failed to close connection", "conn_id", connID, "error", err)
	}

	cm.log.Info("Connection unregistered", "conn_id", connID)
}

func (cm *ConnectionManager) CloseAll() {
	cm.mutex.RLock()
	ids := make([]string, 0, len(cm.connections))
	for id := range cm.connections {
		ids = append(ids, id)
	}
	cm.mutex.RUnlock()

	for _, id := range ids {
		cm.UnregisterConnection(id)
	}
}

func (cm *ConnectionManager) Count() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.connections)
}

// pump runs until the hub closes the subscription or a write fails.
func (cm *ConnectionManager) pump(c *client) {
	defer cm.UnregisterConnection(c.conn.ID())

	for event := range c.sub.Events() {
		if c.itemID != "" && event.ItemID != c.itemID {
			continue
		}

		if err := c.conn.Send(NewPriceUpdateMessage(event)); err != nil {
			cm.log.Error("Failed to send price update", "conn_id", c.conn.ID(),
				"item_id", event.ItemID, "error", err)
			return
		}
	}
}
