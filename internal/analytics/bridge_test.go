package analytics

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/argos-vision/argos/internal/events"
	"github.com/argos-vision/argos/internal/frame"
)

// testBus starts an embedded NATS server on a random port and returns a
// client connection to it.
func testBus(t *testing.T) (*nats.Conn, string) {
	t.Helper()

	srv, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoSigs: true,
		NoLog:  true,
	})
	if err != nil {
		t.Fatalf("Failed to create NATS server: %v", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(2 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(srv.Shutdown)

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to NATS: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc, srv.ClientURL()
}

// fakeMaster advertises the given bus URL on its health endpoint and
// counts camera-list requests.
func fakeMaster(t *testing.T, eventsURL string) (string, *int64) {
	t.Helper()

	var announces int64
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"success":true,"data":{"events_url":%q}}`, eventsURL)
	})
	mux.HandleFunc("/nodes/emit_update_events_list_events", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&announces, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success":true,"data":{"nodes":0}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://"), &announces
}

type captureSubscriber struct {
	only string

	mu     sync.Mutex
	frames []string
	got    chan struct{}
}

func newCaptureSubscriber(only string) *captureSubscriber {
	return &captureSubscriber{only: only, got: make(chan struct{}, 64)}
}

func (c *captureSubscriber) Name() string { return "capture" }

func (c *captureSubscriber) Wants(event string) bool {
	return c.only == "" || c.only == event
}

func (c *captureSubscriber) HandleFrame(event string, payload []byte) {
	c.mu.Lock()
	c.frames = append(c.frames, event+":"+string(payload))
	c.mu.Unlock()
	c.got <- struct{}{}
}

func (c *captureSubscriber) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

func startBridge(t *testing.T, addr string) *Bridge {
	t.Helper()

	b := NewBridge(Config{MasterAddress: addr}, slog.Default())
	b.Start()
	t.Cleanup(b.Stop)

	deadline := time.Now().Add(3 * time.Second)
	for !b.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("Bridge did not connect")
		}
		time.Sleep(20 * time.Millisecond)
	}
	return b
}

func waitForEvents(t *testing.T, b *Bridge, want ...string) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for {
		got := b.Events()
		if len(got) == len(want) {
			match := true
			for i := range want {
				if got[i] != want[i] {
					match = false
					break
				}
			}
			if match {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("Subscriptions = %v, want %v", got, want)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func publishCameraList(t *testing.T, nc *nats.Conn, nodeID int, eventNames []string) {
	t.Helper()

	payload, err := events.EncodeCameraList(nodeID, eventNames)
	if err != nil {
		t.Fatalf("Failed to encode camera list: %v", err)
	}
	if err := nc.Publish(events.UpdateEventsListSubject(), payload); err != nil {
		t.Fatalf("Failed to publish camera list: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
}

func TestBridge_AnnouncesOnConnect(t *testing.T) {
	_, url := testBus(t)
	addr, announces := fakeMaster(t, url)

	startBridge(t, addr)

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt64(announces) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Bridge never requested camera lists")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestBridge_ReconcileTracksSetDifference(t *testing.T) {
	nc, url := testBus(t)
	addr, _ := fakeMaster(t, url)

	b := startBridge(t, addr)

	publishCameraList(t, nc, 3, []string{"3_111", "3_222"})
	waitForEvents(t, b, "3_111", "3_222")

	// Another node's list must not disturb node 3's subscriptions.
	publishCameraList(t, nc, 5, []string{"5_777"})
	waitForEvents(t, b, "3_111", "3_222", "5_777")

	// Node 3 loses one camera and gains another: exactly the stale event
	// goes, exactly the missing one arrives.
	publishCameraList(t, nc, 3, []string{"3_222", "3_333"})
	waitForEvents(t, b, "3_222", "3_333", "5_777")

	// Empty list clears the node entirely.
	publishCameraList(t, nc, 3, nil)
	waitForEvents(t, b, "5_777")
}

func TestBridge_DispatchesOnlySubscribedFrames(t *testing.T) {
	nc, url := testBus(t)
	addr, _ := fakeMaster(t, url)

	b := NewBridge(Config{MasterAddress: addr}, slog.Default())
	all := newCaptureSubscriber("")
	narrow := newCaptureSubscriber("3_222")
	b.Register(all)
	b.Register(narrow)
	b.Start()
	t.Cleanup(b.Stop)

	deadline := time.Now().Add(3 * time.Second)
	for !b.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("Bridge did not connect")
		}
		time.Sleep(20 * time.Millisecond)
	}

	publishCameraList(t, nc, 3, []string{"3_111", "3_222"})
	waitForEvents(t, b, "3_111", "3_222")

	if err := nc.Publish(events.AnalyticsSubject("3_111"), []byte("p1")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := nc.Publish(events.AnalyticsSubject("3_222"), []byte("p2")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	// No subscription exists for this one, so nobody may see it.
	if err := nc.Publish(events.AnalyticsSubject("9_999"), []byte("p3")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-all.got:
		case <-time.After(2 * time.Second):
			t.Fatal("Broad subscriber missed a frame")
		}
	}
	select {
	case <-narrow.got:
	case <-time.After(2 * time.Second):
		t.Fatal("Narrow subscriber missed its frame")
	}

	time.Sleep(100 * time.Millisecond)
	if got := all.all(); len(got) != 2 {
		t.Errorf("Broad subscriber frames = %v", got)
	}
	narrowGot := narrow.all()
	if len(narrowGot) != 1 || narrowGot[0] != "3_222:p2" {
		t.Errorf("Narrow subscriber frames = %v", narrowGot)
	}
}

func TestActivityMonitor_TracksStreams(t *testing.T) {
	m := NewActivityMonitor(slog.Default())

	tuple := &frame.Tuple{
		CameraSN:  "833612074926",
		Timestamp: 1700000000.25,
		Slots: []frame.Slot{
			{Kind: frame.KindColor, DType: frame.DTypeUint8, Shape: []int{2, 2, 3}, Data: bytes.Repeat([]byte{1}, 12)},
			{Kind: frame.KindDepth, DType: frame.DTypeUint16LE, Shape: []int{2, 2}, Data: make([]byte, 8)},
		},
	}
	payload, err := tuple.Encode()
	if err != nil {
		t.Fatalf("Failed to encode tuple: %v", err)
	}

	m.HandleFrame("3_833612074926", payload)
	m.HandleFrame("3_833612074926", payload)
	m.HandleFrame("not-a-tuple", []byte("garbage"))

	stats := m.Stats()
	if len(stats) != 1 {
		t.Fatalf("Stats = %+v, want one stream", stats)
	}
	got := stats[0]
	if got.Event != "3_833612074926" || got.Frames != 2 || got.Slots != 2 {
		t.Errorf("Stream stats = %+v", got)
	}
	if got.Timestamp != 1700000000.25 {
		t.Errorf("Timestamp = %v", got.Timestamp)
	}
	if m.Wants("anything") != true {
		t.Error("Monitor should consume every stream")
	}
}
