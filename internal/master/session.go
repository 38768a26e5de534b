package master

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/argos-vision/argos/internal/events"
)

// reconnectInterval is the fixed delay between connection attempts to a
// node. Retries never back off and never give up.
const reconnectInterval = time.Second

// SessionEvents receives the lifecycle of one node session. OnFrame is
// called from the session's read loop, so implementations must not block.
type SessionEvents interface {
	// OnConnect fires after the camera list was fetched and the handler
	// set bound. serials is the node's current camera set.
	OnConnect(node NodeRecord, serials []string)
	// OnFrame fires once per inbound frame event that matched the bound
	// handler set.
	OnFrame(node NodeRecord, serial string, payload []byte)
	// OnDisconnect fires when the socket drops, after the handler set was
	// cleared.
	OnDisconnect(node NodeRecord)
}

// NodeSession maintains the master's outbound event-socket connection to
// one node. It dials, binds one handler per camera event, pumps inbound
// frames to the sink, and redials forever on failure.
type NodeSession struct {
	node   NodeRecord
	sink   SessionEvents
	logger *slog.Logger
	dialer *websocket.Dialer
	client *http.Client

	mu        sync.Mutex
	conn      *websocket.Conn
	serials   map[string]bool
	connected bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewNodeSession creates a session for one roster record. Run must be
// called to start it.
func NewNodeSession(node NodeRecord, sink SessionEvents, logger *slog.Logger) *NodeSession {
	return &NodeSession{
		node:   node,
		sink:   sink,
		logger: logger.With("component", "session", "node", node.ID),
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		client: &http.Client{Timeout: 5 * time.Second},
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Run dials the node and keeps the session alive until Stop. Each failed
// attempt or dropped connection is followed by a fixed 1 s pause.
func (s *NodeSession) Run() {
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		if err := s.connectOnce(); err != nil {
			s.logger.Warn("Node session down", "address", s.node.Address, "error", err)
		}

		select {
		case <-s.stop:
			return
		case <-time.After(reconnectInterval):
		}
	}
}

// Stop tears the session down and waits for the run loop to exit.
func (s *NodeSession) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.mu.Unlock()
	})
	<-s.done
}

// Connected reports whether the event socket is currently up.
func (s *NodeSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Serials returns the camera set bound on the last connect, sorted.
// Empty while disconnected.
func (s *NodeSession) Serials() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.serials))
	for sn := range s.serials {
		out = append(out, sn)
	}
	sort.Strings(out)
	return out
}

// connectOnce runs one full session: dial, rebind handlers from the
// node's current camera list, pump frames until the socket drops.
func (s *NodeSession) connectOnce() error {
	conn, _, err := s.dialer.Dial(fmt.Sprintf("ws://%s/events", s.node.Address), nil)
	if err != nil {
		return fmt.Errorf("failed to dial event socket: %w", err)
	}

	serials, err := s.fetchCameras()
	if err != nil {
		_ = conn.Close()
		return err
	}

	set := make(map[string]bool, len(serials))
	for _, sn := range serials {
		set[sn] = true
	}

	s.mu.Lock()
	s.conn = conn
	s.serials = set
	s.connected = true
	s.mu.Unlock()

	s.logger.Info("Node session established", "address", s.node.Address, "cameras", len(serials))
	s.sink.OnConnect(s.node, serials)

	err = s.readLoop(conn)

	s.mu.Lock()
	s.conn = nil
	s.serials = nil
	s.connected = false
	s.mu.Unlock()

	_ = conn.Close()
	s.sink.OnDisconnect(s.node)
	return err
}

// fetchCameras queries the node's HTTP surface for its camera serials.
func (s *NodeSession) fetchCameras() ([]string, error) {
	resp, err := s.client.Get(fmt.Sprintf("http://%s/cameras", s.node.Address))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch camera list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("camera list request returned %d", resp.StatusCode)
	}

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			Cameras []string `json:"cameras"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to parse camera list: %w", err)
	}
	if !envelope.Success {
		return nil, fmt.Errorf("camera list request was rejected")
	}
	return envelope.Data.Cameras, nil
}

func (s *NodeSession) readLoop(conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stop:
				return nil
			default:
			}
			return fmt.Errorf("event socket read failed: %w", err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		env, err := events.Decode(data)
		if err != nil {
			s.logger.Warn("Discarding malformed event", "error", err)
			continue
		}

		s.mu.Lock()
		bound := s.serials[env.Event]
		s.mu.Unlock()
		if !bound {
			continue
		}

		s.sink.OnFrame(s.node, env.Event, env.Data)
	}
}
