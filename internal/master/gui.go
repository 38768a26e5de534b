package master

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/argos-vision/argos/internal/events"
)

const (
	guiWriteWait  = 10 * time.Second
	guiPongWait   = 60 * time.Second
	guiPingPeriod = (guiPongWait * 9) / 10

	// guiSendBuffer bounds the per-client frame buffer. A full buffer
	// drops the frame for that client, never the client itself.
	guiSendBuffer = 16
)

// guiControl is the JSON control message a viewer sends to narrow its
// event subscriptions.
type guiControl struct {
	Action string `json:"action"`
	Event  string `json:"event"`
}

type guiFrame struct {
	event   string
	payload []byte
}

// guiClient is one connected viewer. A client starts subscribed to every
// frame event; its first subscribe narrows delivery to an explicit set.
// The max_fps cap applies per subscribed stream.
type guiClient struct {
	id   string
	hub  *GUIHub
	conn *websocket.Conn
	send chan []byte

	maxFPS float64

	mu       sync.Mutex
	all      bool
	subs     map[string]bool
	limiters map[string]*rate.Limiter
}

// wants reports whether the client should receive this event now, taking
// one rate-limit token when a cap is set.
func (c *guiClient) wants(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.all && !c.subs[event] {
		return false
	}
	if c.maxFPS <= 0 {
		return true
	}
	lim, ok := c.limiters[event]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(c.maxFPS), 1)
		c.limiters[event] = lim
	}
	return lim.Allow()
}

func (c *guiClient) apply(ctrl guiControl) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ctrl.Action {
	case "subscribe":
		if ctrl.Event == "" || ctrl.Event == "*" {
			c.all = true
			c.subs = make(map[string]bool)
			return
		}
		if c.all {
			c.all = false
			c.subs = make(map[string]bool)
		}
		c.subs[ctrl.Event] = true
	case "unsubscribe":
		delete(c.subs, ctrl.Event)
	}
}

// GUIHub serves /ws/gui: it bridges every frame on the bus's gui
// namespace to the connected viewers, filtered per client.
type GUIHub struct {
	bus    *EventBus
	logger *slog.Logger

	upgrader websocket.Upgrader

	register   chan *guiClient
	unregister chan *guiClient
	frames     chan guiFrame
	clients    map[*guiClient]bool

	stop chan struct{}
	done chan struct{}
}

// NewGUIHub creates the hub. Start must be called to begin bridging.
func NewGUIHub(bus *EventBus, logger *slog.Logger) *GUIHub {
	return &GUIHub{
		bus:    bus,
		logger: logger.With("component", "gui"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		register:   make(chan *guiClient),
		unregister: make(chan *guiClient),
		frames:     make(chan guiFrame, 64),
		clients:    make(map[*guiClient]bool),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start subscribes to the gui namespace and runs the hub loop.
func (h *GUIHub) Start() error {
	_, err := h.bus.Subscribe(events.NamespaceGUI+".>", func(msg *nats.Msg) {
		select {
		case h.frames <- guiFrame{event: events.EventFromSubject(msg.Subject), payload: msg.Data}:
		default:
			// Hub loop saturated. Live view tolerates lost frames, a
			// stalled bus callback would not.
		}
	})
	if err != nil {
		return err
	}

	go h.run()
	return nil
}

// Stop disconnects every viewer and stops the loop.
func (h *GUIHub) Stop() {
	close(h.stop)
	<-h.done
}

func (h *GUIHub) run() {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.logger.Info("Viewer connected", "viewer", client.id, "viewers", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("Viewer disconnected", "viewer", client.id, "viewers", len(h.clients))
			}

		case f := <-h.frames:
			env := events.Envelope{Event: f.event, Data: f.payload}
			data, err := env.Encode()
			if err != nil {
				h.logger.Error("Failed to encode viewer frame", "event", f.event, "error", err)
				continue
			}
			for client := range h.clients {
				if !client.wants(f.event) {
					continue
				}
				select {
				case client.send <- data:
				default:
				}
			}

		case <-h.stop:
			h.bus.Unsubscribe(events.NamespaceGUI + ".>")
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			return
		}
	}
}

// HandleWS upgrades a viewer connection. The optional max_fps query
// parameter caps how many frames per second each subscribed stream may
// deliver to this client.
func (h *GUIHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	maxFPS := 0.0
	if raw := r.URL.Query().Get("max_fps"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			http.Error(w, "max_fps must be a positive number", http.StatusBadRequest)
			return
		}
		maxFPS = parsed
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade viewer connection", "error", err)
		return
	}

	client := &guiClient{
		id:       uuid.NewString(),
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, guiSendBuffer),
		maxFPS:   maxFPS,
		all:      true,
		subs:     make(map[string]bool),
		limiters: make(map[string]*rate.Limiter),
	}

	select {
	case h.register <- client:
	case <-h.stop:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump consumes subscription control messages until the socket drops.
func (c *guiClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(guiPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(guiPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var ctrl guiControl
		if err := json.Unmarshal(data, &ctrl); err != nil {
			c.hub.logger.Warn("Ignoring malformed viewer control message", "error", err)
			continue
		}
		c.apply(ctrl)
	}
}

// writePump sends buffered frames, one binary message each.
func (c *guiClient) writePump() {
	ticker := time.NewTicker(guiPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(guiWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(guiWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
