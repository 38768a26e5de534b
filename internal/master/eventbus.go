// Package master implements the fleet side of ARGOS: the embedded event
// bus, the node roster, per-node stream sessions, frame fan-out to GUI and
// analytics consumers, and the dataset recorder.
package master

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/argos-vision/argos/internal/events"
)

// EventBus is the embedded NATS server every master runs. Frame envelopes
// are published to it verbatim (CBOR bytes); GUI relays and analytics
// bridges connect as ordinary NATS clients, locally or over the network.
type EventBus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger

	subs   map[string][]*nats.Subscription
	subsMu sync.Mutex
}

// EventBusConfig configures the embedded NATS server.
type EventBusConfig struct {
	// Host to bind the NATS listener to (default: 127.0.0.1).
	Host string
	// Port for the NATS listener (default: 7701).
	Port int
}

// DefaultEventBusPort is one above the default master API port.
const DefaultEventBusPort = 7701

// NewEventBus starts an embedded NATS server and connects to it.
func NewEventBus(cfg EventBusConfig, logger *slog.Logger) (*EventBus, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultEventBusPort
	}

	opts := &server.Options{
		Host:   cfg.Host,
		Port:   cfg.Port,
		NoSigs: true,
		NoLog:  true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready after 2 seconds (port %d)", cfg.Port)
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	eb := &EventBus{
		server: ns,
		conn:   nc,
		logger: logger.With("component", "eventbus"),
		subs:   make(map[string][]*nats.Subscription),
	}

	eb.logger.Info("Event bus started", "url", ns.ClientURL())

	return eb, nil
}

// ClientURL returns the NATS client URL of the embedded server.
func (eb *EventBus) ClientURL() string {
	return eb.server.ClientURL()
}

// Publish publishes raw bytes to a subject. Frame payloads are already
// CBOR-encoded envelopes, so no marshaling happens here.
func (eb *EventBus) Publish(subject string, data []byte) error {
	return eb.conn.Publish(subject, data)
}

// PublishEnvelope encodes an event envelope and publishes it.
func (eb *EventBus) PublishEnvelope(subject string, env events.Envelope) error {
	payload, err := env.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	return eb.conn.Publish(subject, payload)
}

// Subscribe subscribes to a subject. The subscription is tracked so that
// Unsubscribe and Stop can tear it down.
func (eb *EventBus) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	sub, err := eb.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}

	eb.subsMu.Lock()
	eb.subs[subject] = append(eb.subs[subject], sub)
	eb.subsMu.Unlock()

	return sub, nil
}

// Unsubscribe removes all tracked subscriptions for a subject.
func (eb *EventBus) Unsubscribe(subject string) {
	eb.subsMu.Lock()
	defer eb.subsMu.Unlock()

	if subs, ok := eb.subs[subject]; ok {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
		delete(eb.subs, subject)
	}
}

// Connected reports whether the local client connection is up.
func (eb *EventBus) Connected() bool {
	return eb.conn.IsConnected()
}

// Stop drains the client connection and shuts the server down.
func (eb *EventBus) Stop() {
	_ = eb.conn.Drain()
	eb.server.Shutdown()
	eb.logger.Info("Event bus stopped")
}
