package master

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/argos-vision/argos/internal/events"
)

func testBus(t *testing.T) *EventBus {
	t.Helper()

	bus, err := NewEventBus(EventBusConfig{Host: "127.0.0.1", Port: -1}, slog.Default())
	if err != nil {
		t.Fatalf("Failed to start event bus: %v", err)
	}
	t.Cleanup(bus.Stop)
	return bus
}

func collect(t *testing.T, bus *EventBus, subject string) chan []byte {
	t.Helper()

	ch := make(chan []byte, 8)
	if _, err := bus.Subscribe(subject, func(msg *nats.Msg) {
		ch <- msg.Data
	}); err != nil {
		t.Fatalf("Failed to subscribe to %s: %v", subject, err)
	}
	return ch
}

func waitPayload(t *testing.T, ch chan []byte, what string) []byte {
	t.Helper()

	select {
	case data := <-ch:
		return data
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for %s", what)
		return nil
	}
}

func TestDispatcher_RepublishesToBothNamespaces(t *testing.T) {
	bus := testBus(t)
	rec, _, _ := testRecorder(t)
	d := NewDispatcher(bus, rec, slog.Default())

	gui := collect(t, bus, "gui.3_111")
	analytics := collect(t, bus, "analytics.3_111")

	payload := []byte("tuple-bytes")
	d.OnFrame(NodeRecord{ID: 3}, "111", payload)

	if got := waitPayload(t, gui, "gui frame"); !bytes.Equal(got, payload) {
		t.Errorf("gui payload = %q, want %q", got, payload)
	}
	if got := waitPayload(t, analytics, "analytics frame"); !bytes.Equal(got, payload) {
		t.Errorf("analytics payload = %q, want %q", got, payload)
	}
}

func TestDispatcher_FeedsActiveRecording(t *testing.T) {
	bus := testBus(t)
	rec, datasets, _ := testRecorder(t)
	d := NewDispatcher(bus, rec, slog.Default())

	if err := datasets.Create("d"); err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}
	if _, err := rec.Toggle(3, "111", "d"); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}

	d.OnFrame(NodeRecord{ID: 3}, "111", framePayload(t, "111", 55.5))

	if _, err := rec.Toggle(3, "111", "d"); err != nil {
		t.Fatalf("Toggle off failed: %v", err)
	}

	files, err := ListRawImages(datasets.RawDir("d"))
	if err != nil {
		t.Fatalf("Failed to list raw files: %v", err)
	}
	if len(files) != 2 {
		t.Errorf("Expected color and depth files, got %v", files)
	}
}

func TestDispatcher_EmitCameraList(t *testing.T) {
	bus := testBus(t)
	rec, _, _ := testRecorder(t)
	d := NewDispatcher(bus, rec, slog.Default())

	control := collect(t, bus, events.UpdateEventsListSubject())

	d.OnConnect(NodeRecord{ID: 3}, []string{"111", "222"})

	raw := waitPayload(t, control, "camera list")
	list, err := events.DecodeCameraList(raw)
	if err != nil {
		t.Fatalf("Failed to decode camera list: %v", err)
	}
	if list.NodeID != 3 {
		t.Errorf("NodeID = %d, want 3", list.NodeID)
	}
	if len(list.Events) != 2 || list.Events[0] != "3_111" || list.Events[1] != "3_222" {
		t.Errorf("Events = %v", list.Events)
	}
}

func TestDispatcher_DisconnectStopsNodeRecordings(t *testing.T) {
	bus := testBus(t)
	rec, datasets, _ := testRecorder(t)
	d := NewDispatcher(bus, rec, slog.Default())

	if err := datasets.Create("d"); err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}
	if _, err := rec.Toggle(3, "111", "d"); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}

	d.OnDisconnect(NodeRecord{ID: 3})

	if rec.Recording(3, "111") {
		t.Error("Disconnect must stop the node's recordings")
	}
	if got := datasets.ActiveWriters("d"); got != 0 {
		t.Errorf("ActiveWriters = %d, want 0", got)
	}
}
