// Package events defines the envelope and naming scheme shared by the
// node event sockets, the master's event bus, and the analytics bridge.
//
// A node names its frame events by bare camera serial. The master
// re-emits them under fleet-unique names, <node_id>_<serial>, into the
// gui and analytics namespaces of its bus.
package events

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Namespace prefixes on the master's event bus.
const (
	NamespaceGUI       = "gui"
	NamespaceAnalytics = "analytics"
)

// UpdateEventsListEvent is the control event the master emits on the
// analytics namespace whenever the set of camera frame events changed.
const UpdateEventsListEvent = "update_events_list"

// Envelope is one named event on the wire.
type Envelope struct {
	Event string `cbor:"event"`
	Data  []byte `cbor:"data"`
}

// Encode serializes the envelope.
func (e Envelope) Encode() ([]byte, error) {
	data, err := cbor.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %q: %w", e.Event, err)
	}
	return data, nil
}

// Decode parses an envelope off the wire.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := cbor.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode event envelope: %w", err)
	}
	if e.Event == "" {
		return Envelope{}, fmt.Errorf("event envelope has an empty name")
	}
	return e, nil
}

// FrameEvent builds the fleet-unique frame event name for a camera.
func FrameEvent(nodeID int, serial string) string {
	return fmt.Sprintf("%d_%s", nodeID, serial)
}

// ParseFrameEvent splits a fleet-unique frame event name back into node id
// and serial.
func ParseFrameEvent(event string) (nodeID int, serial string, ok bool) {
	idPart, snPart, found := strings.Cut(event, "_")
	if !found || snPart == "" {
		return 0, "", false
	}
	id, err := strconv.Atoi(idPart)
	if err != nil {
		return 0, "", false
	}
	return id, snPart, true
}

// GUISubject is the bus subject carrying a frame event for viewers.
func GUISubject(event string) string {
	return NamespaceGUI + "." + event
}

// AnalyticsSubject is the bus subject carrying a frame event for the
// analytics bridge.
func AnalyticsSubject(event string) string {
	return NamespaceAnalytics + "." + event
}

// UpdateEventsListSubject is the bus subject of the camera-list control
// event.
func UpdateEventsListSubject() string {
	return AnalyticsSubject(UpdateEventsListEvent)
}

// EventFromSubject strips the namespace from a bus subject.
func EventFromSubject(subject string) string {
	if i := strings.IndexByte(subject, '.'); i >= 0 {
		return subject[i+1:]
	}
	return subject
}

// CameraList is the payload of the update_events_list control event: one
// node's current set of frame event names. Consumers reconcile their
// subscriptions for that node against it.
type CameraList struct {
	NodeID int      `cbor:"node_id"`
	Events []string `cbor:"events"`
}

// EncodeCameraList serializes the control payload.
func EncodeCameraList(nodeID int, eventNames []string) ([]byte, error) {
	data, err := cbor.Marshal(CameraList{NodeID: nodeID, Events: eventNames})
	if err != nil {
		return nil, fmt.Errorf("failed to encode camera list: %w", err)
	}
	return data, nil
}

// DecodeCameraList parses the control payload.
func DecodeCameraList(data []byte) (CameraList, error) {
	var list CameraList
	if err := cbor.Unmarshal(data, &list); err != nil {
		return CameraList{}, fmt.Errorf("failed to decode camera list: %w", err)
	}
	return list, nil
}
