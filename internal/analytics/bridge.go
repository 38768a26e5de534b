// Package analytics bridges the master's analytics event namespace into
// local sub-services. The bridge is its own process: it discovers the
// master's event bus, mirrors per-camera subscriptions as nodes come and
// go, and dispatches frame payloads to registered subscribers.
package analytics

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/argos-vision/argos/internal/events"
)

const (
	// retryInterval paces connection attempts against the master.
	retryInterval = time.Second

	masterTimeout = 5 * time.Second
)

// Subscriber is one analytics sub-service fed by the bridge. HandleFrame
// runs on the bus callback goroutine and must not block.
type Subscriber interface {
	Name() string
	Wants(event string) bool
	HandleFrame(event string, payload []byte)
}

// Config locates the master the bridge attaches to.
type Config struct {
	// MasterAddress is the master API as host:port. The event-bus URL is
	// discovered from its health endpoint.
	MasterAddress string
}

// Bridge maintains the NATS session to the master's event bus and the
// per-camera subscription set reconciled from update_events_list
// announcements.
type Bridge struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client

	mu          sync.Mutex
	conn        *nats.Conn
	listSub     *nats.Subscription
	frameSubs   map[string]*nats.Subscription
	subscribers []Subscriber

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewBridge creates a bridge for the master at cfg.MasterAddress. Nothing
// connects until Start.
func NewBridge(cfg Config, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:       cfg,
		logger:    logger.With("component", "bridge"),
		client:    &http.Client{Timeout: masterTimeout},
		frameSubs: make(map[string]*nats.Subscription),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Register adds a sub-service. Must be called before Start.
func (b *Bridge) Register(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, sub)
	b.logger.Info("Subscriber registered", "name", sub.Name())
}

// Start launches the connect loop. The loop retries at 1 Hz until the
// master is reachable and keeps the session alive afterwards.
func (b *Bridge) Start() {
	go b.run()
}

// Stop tears the session down and waits for the loop to exit.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })
	b.closeConn()
	<-b.done
}

func (b *Bridge) closeConn() {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Connected reports whether the bus session is up.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && b.conn.IsConnected()
}

// Events returns the sorted event names currently subscribed.
func (b *Bridge) Events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.frameSubs))
	for ev := range b.frameSubs {
		names = append(names, ev)
	}
	sort.Strings(names)
	return names
}

func (b *Bridge) run() {
	defer close(b.done)

	for {
		select {
		case <-b.stop:
			return
		default:
		}

		closed, err := b.connect()
		if err != nil {
			b.logger.Warn("Master unreachable", "address", b.cfg.MasterAddress, "error", err)
			select {
			case <-b.stop:
				return
			case <-time.After(retryInterval):
			}
			continue
		}

		// The NATS client reconnects on its own from here; the loop only
		// resumes if the connection closes for good.
		select {
		case <-b.stop:
			b.closeConn()
			return
		case <-closed:
			b.logger.Warn("Event bus session closed")
			b.clearSession()
		}
	}
}

// connect discovers the event-bus URL, dials it, binds the control
// subscription, and announces the bridge so the master re-emits every
// camera list. The returned channel closes when the session is closed
// for good.
func (b *Bridge) connect() (<-chan struct{}, error) {
	url, err := b.discoverEventsURL()
	if err != nil {
		return nil, err
	}

	closed := make(chan struct{})
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(retryInterval),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.logger.Warn("Event bus disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			b.logger.Info("Event bus reconnected")
			b.announce()
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			close(closed)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to event bus: %w", err)
	}

	listSub, err := conn.Subscribe(events.UpdateEventsListSubject(), func(msg *nats.Msg) {
		list, err := events.DecodeCameraList(msg.Data)
		if err != nil {
			b.logger.Warn("Malformed camera list", "error", err)
			return
		}
		b.Reconcile(list)
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to camera lists: %w", err)
	}
	if err := conn.Flush(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to flush subscription interest: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.listSub = listSub
	b.mu.Unlock()

	b.logger.Info("Connected to event bus", "url", url)
	b.announce()
	return closed, nil
}

func (b *Bridge) clearSession() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conn = nil
	b.listSub = nil
	b.frameSubs = make(map[string]*nats.Subscription)
}

// discoverEventsURL asks the master's health endpoint where the bus
// listens.
func (b *Bridge) discoverEventsURL() (string, error) {
	resp, err := b.client.Get(fmt.Sprintf("http://%s/healthz", b.cfg.MasterAddress))
	if err != nil {
		return "", fmt.Errorf("failed to reach master: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("master health returned status %d", resp.StatusCode)
	}

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			EventsURL string `json:"events_url"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to parse master health: %w", err)
	}
	if !body.Success || body.Data.EventsURL == "" {
		return "", fmt.Errorf("master health did not advertise an events URL")
	}
	return body.Data.EventsURL, nil
}

// announce asks the master to re-emit every node's camera list so the
// subscription set can be rebuilt from a clean slate.
func (b *Bridge) announce() {
	url := fmt.Sprintf("http://%s/nodes/emit_update_events_list_events", b.cfg.MasterAddress)
	resp, err := b.client.Post(url, "application/json", nil)
	if err != nil {
		b.logger.Warn("Failed to request camera lists", "error", err)
		return
	}
	_ = resp.Body.Close()
	b.logger.Info("Requested camera lists", "status", resp.StatusCode)
}

// Reconcile aligns the subscription set for one node with its announced
// camera list: stale events are unsubscribed, missing ones subscribed.
// Events belonging to other nodes are untouched.
func (b *Bridge) Reconcile(list events.CameraList) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return
	}

	expected := make(map[string]bool, len(list.Events))
	for _, ev := range list.Events {
		expected[ev] = true
	}

	for ev, sub := range b.frameSubs {
		nodeID, _, ok := events.ParseFrameEvent(ev)
		if !ok || nodeID != list.NodeID {
			continue
		}
		if expected[ev] {
			continue
		}
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn("Unsubscribe failed", "event", ev, "error", err)
		}
		delete(b.frameSubs, ev)
		b.logger.Info("Camera unsubscribed", "event", ev)
	}

	for ev := range expected {
		if _, ok := b.frameSubs[ev]; ok {
			continue
		}
		event := ev
		sub, err := b.conn.Subscribe(events.AnalyticsSubject(event), func(msg *nats.Msg) {
			b.dispatch(event, msg.Data)
		})
		if err != nil {
			b.logger.Warn("Subscribe failed", "event", event, "error", err)
			continue
		}
		b.frameSubs[event] = sub
		b.logger.Info("Camera subscribed", "event", event)
	}

	// Interest must reach the server before Events reports the new set.
	if err := b.conn.Flush(); err != nil {
		b.logger.Warn("Failed to flush subscription changes", "error", err)
	}
}

// dispatch hands one frame payload to every subscriber that wants the
// event.
func (b *Bridge) dispatch(event string, payload []byte) {
	b.mu.Lock()
	subs := append([]Subscriber(nil), b.subscribers...)
	b.mu.Unlock()

	for _, sub := range subs {
		if sub.Wants(event) {
			sub.HandleFrame(event, payload)
		}
	}
}
