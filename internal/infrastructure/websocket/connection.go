package websocket

import (
	"sync"
	"time"

	"offer-market/pkg/logger"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// WebSocketConnection serializes writes; gorilla allows one concurrent writer.
type WebSocketConnection struct {
	conn       *websocket.Conn
	id         string
	writeMutex sync.Mutex
	closeOnce  sync.Once
	log        logger.Logger
}

func NewWebSocketConnection(conn *websocket.Conn, id string, log logger.Logger) *WebSocketConnection {
	return &WebSocketConnection{
		conn: conn,
		id:   id,
		log:  log,
	}
}

func (wsc *WebSocketConnection) Send(message interface{}) error {
	wsc.writeMutex.Lock()
	defer wsc.writeMutex.Unlock()

	if err := wsc.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return wsc.conn.WriteJSON(message)
}

func (wsc *WebSocketConnection) Ping() error {
	return wsc.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (wsc *WebSocketConnection) Close() error {
	var err error
	wsc.closeOnce.Do(func() {
		_ = wsc.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = wsc.conn.Close()
	})
	return err
}

func (wsc *WebSocketConnection) ID() string {
	return wsc.id
}
