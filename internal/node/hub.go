// Package node implements the camera node service: the local camera
// manager, the event socket that streams frames upward, the config
// watcher, and the node HTTP API.
package node

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/argos-vision/argos/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Nodes sit on the store LAN behind the master; origins are not
		// filtered here.
		return true
	},
}

// Hub owns the node's event socket: every connected consumer receives
// every frame event. Slow consumers lose frames, never stall capture.
type Hub struct {
	clients    map[*socketClient]bool
	broadcast  chan []byte
	register   chan *socketClient
	unregister chan *socketClient
	mu         sync.RWMutex
	logger     *slog.Logger

	// onFirst and onLast fire on the 0->1 and 1->0 client transitions so
	// the camera manager can attach or detach its frame emitters.
	onFirst func()
	onLast  func()
}

// socketClient is one event-socket consumer.
type socketClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates the event-socket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*socketClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *socketClient),
		unregister: make(chan *socketClient),
		logger:     slog.Default().With("component", "event-socket"),
	}
}

// OnClientEdge registers the client-count transition hooks. Must be called
// before Run.
func (h *Hub) OnClientEdge(onFirst, onLast func()) {
	h.onFirst = onFirst
	h.onLast = onLast
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("consumer connected", "total_clients", count)
			if count == 1 && h.onFirst != nil {
				h.onFirst()
			}

		case client := <-h.unregister:
			h.mu.Lock()
			count := len(h.clients)
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				count = len(h.clients)
			}
			h.mu.Unlock()
			h.logger.Debug("consumer disconnected", "total_clients", count)
			if count == 0 && h.onLast != nil {
				h.onLast()
			}

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Consumer buffer full, frame dropped
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Emit publishes one named event to every consumer. The payload is
// wrapped in the wire envelope here, once, regardless of consumer count.
func (h *Hub) Emit(event string, payload []byte) {
	raw, err := events.Envelope{Event: event, Data: payload}.Encode()
	if err != nil {
		h.logger.Error("failed to encode event", "event", event, "error", err)
		return
	}
	select {
	case h.broadcast <- raw:
	default:
		h.logger.Warn("event socket backlogged, dropping frame", "event", event)
	}
}

// ClientCount returns the number of connected consumers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades an event-socket connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", "error", err)
		return
	}

	client := &socketClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump drains the connection. Consumers send nothing meaningful; the
// read loop exists to notice disconnects and answer pings.
func (c *socketClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("event socket read error", "error", err)
			}
			break
		}
	}
}

// writePump forwards events to the consumer. Envelopes are binary; one
// envelope per websocket message.
func (c *socketClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
