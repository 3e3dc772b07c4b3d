package services

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"paper-trader/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// envelope wraps everything the hub pushes so clients can demultiplex tick
// updates from order lifecycle events.
type envelope struct {
	Channel string      `json:"channel"` // "ticks" or "orders"
	Data    interface{} `json:"data"`
}

// WebSocketHub fans stock ticks and order lifecycle events out to connected
// clients. It is the engine's event publisher.
type WebSocketHub struct {
	clients    map[*WebSocketClient]bool
	broadcast  chan envelope
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	log        *zap.Logger
}

type WebSocketClient struct {
	hub      *WebSocketHub
	conn     *websocket.Conn
	send     chan []byte
	username string
}

func NewWebSocketHub(log *zap.Logger) *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan envelope, 64),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		log:        log,
	}
}

func (h *WebSocketHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.log.Info("websocket client connected",
				zap.String("username", client.username),
				zap.Int("total", len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.log.Info("websocket client disconnected",
					zap.Int("total", len(h.clients)))
			}

		case env := <-h.broadcast:
			message, err := json.Marshal(env)
			if err != nil {
				h.log.Error("marshaling broadcast failed", zap.Error(err))
				continue
			}
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// BroadcastStock pushes a price tick to all clients.
func (h *WebSocketHub) BroadcastStock(stock models.Stock) {
	h.broadcast <- envelope{Channel: "ticks", Data: stock}
}

// PublishOrderEvent pushes an order lifecycle event to all clients. It never
// blocks order processing: if the hub's buffer is full the event is dropped.
func (h *WebSocketHub) PublishOrderEvent(event models.OrderEvent) {
	select {
	case h.broadcast <- envelope{Channel: "orders", Data: event}:
	default:
		h.log.Warn("event broadcast buffer full, dropping event",
			zap.String("order_id", event.OrderID),
			zap.String("type", string(event.Type)))
	}
}

func (h *WebSocketHub) RegisterClient(conn *websocket.Conn, username string) *WebSocketClient {
	client := &WebSocketClient{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 256),
		username: username,
	}
	h.register <- client
	return client
}

func (c *WebSocketClient) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read failed", zap.Error(err))
			}
			break
		}
	}
}

func (c *WebSocketClient) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
