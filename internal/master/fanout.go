package master

import (
	"log/slog"

	"github.com/argos-vision/argos/internal/events"
)

// Dispatcher fans every inbound frame out to the event bus and, when a
// recording session matches, to the recorder queue. Fan-out is synchronous
// with the session read loop; the bus and the queues never block, so a
// slow consumer costs drops, not capture latency.
type Dispatcher struct {
	bus      *EventBus
	recorder *Recorder
	logger   *slog.Logger
}

// NewDispatcher wires the fan-out path.
func NewDispatcher(bus *EventBus, recorder *Recorder, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		bus:      bus,
		recorder: recorder,
		logger:   logger.With("component", "fanout"),
	}
}

// OnConnect announces the node's rebound camera set on the analytics
// namespace so bridges can reconcile their subscriptions.
func (d *Dispatcher) OnConnect(node NodeRecord, serials []string) {
	d.EmitCameraList(node, serials)
}

// OnFrame republishes one frame payload under its fleet-unique name, once
// per namespace, and offers it to the recorder.
func (d *Dispatcher) OnFrame(node NodeRecord, serial string, payload []byte) {
	event := events.FrameEvent(node.ID, serial)

	if err := d.bus.Publish(events.GUISubject(event), payload); err != nil {
		d.logger.Warn("Failed to publish frame to gui namespace", "event", event, "error", err)
	}
	if err := d.bus.Publish(events.AnalyticsSubject(event), payload); err != nil {
		d.logger.Warn("Failed to publish frame to analytics namespace", "event", event, "error", err)
	}

	d.recorder.Enqueue(node.ID, serial, payload)
}

// OnDisconnect tears down the node's recording sessions. Their workers
// drain whatever was queued before the socket dropped.
func (d *Dispatcher) OnDisconnect(node NodeRecord) {
	d.recorder.StopAllForNode(node.ID)
}

// EmitCameraList publishes the update_events_list control event for one
// node: its id plus the fleet-unique frame event names of its cameras.
func (d *Dispatcher) EmitCameraList(node NodeRecord, serials []string) {
	names := make([]string, 0, len(serials))
	for _, sn := range serials {
		names = append(names, events.FrameEvent(node.ID, sn))
	}

	payload, err := events.EncodeCameraList(node.ID, names)
	if err != nil {
		d.logger.Error("Failed to encode camera list", "node", node.ID, "error", err)
		return
	}
	if err := d.bus.Publish(events.UpdateEventsListSubject(), payload); err != nil {
		d.logger.Warn("Failed to publish camera list", "node", node.ID, "error", err)
		return
	}
	d.logger.Info("Camera list announced", "node", node.ID, "cameras", len(serials))
}
