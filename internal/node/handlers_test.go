package node

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/argos-vision/argos/internal/camera"
	"github.com/argos-vision/argos/internal/events"
	"github.com/argos-vision/argos/internal/frame"
	"github.com/argos-vision/argos/internal/logging"
)

type envelopeJSON struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"details"`
	} `json:"error"`
}

func newTestServer(t *testing.T, serials ...string) (*httptest.Server, *Manager) {
	t.Helper()
	m, hub, layout := newTestManager(t, serials...)
	for _, sn := range serials {
		writeCameraYAML(t, layout, sn, 30)
	}
	if err := m.Bootstrap(); err != nil {
		t.Fatalf("Bootstrap() error: %v", err)
	}
	waitReadyAll(t, m)

	ring := logging.NewRingBuffer(100)
	for i := 0; i < 5; i++ {
		ring.Add(logging.LogEntry{Level: "INFO", Message: fmt.Sprintf("boot step %d", i)})
	}

	srv := NewServer(m, hub, ring)
	go hub.Run()
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, m
}

func getJSON(t *testing.T, url string) (int, envelopeJSON) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error: %v", url, err)
	}
	defer resp.Body.Close()
	var env envelopeJSON
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("GET %s: bad envelope: %v", url, err)
	}
	return resp.StatusCode, env
}

func postJSON(t *testing.T, url string) (int, envelopeJSON) {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s error: %v", url, err)
	}
	defer resp.Body.Close()
	var env envelopeJSON
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("POST %s: bad envelope: %v", url, err)
	}
	return resp.StatusCode, env
}

func TestHandleHealth(t *testing.T) {
	ts, _ := newTestServer(t, "111")
	code, env := getJSON(t, ts.URL+"/healthz")
	if code != http.StatusOK || !env.Success {
		t.Fatalf("healthz = %d, success %v", code, env.Success)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data["service"] != "argos-node" {
		t.Errorf("service = %v", data["service"])
	}
	if data["cameras"].(float64) != 1 {
		t.Errorf("cameras = %v, want 1", data["cameras"])
	}
}

func TestHandleListCameras(t *testing.T) {
	ts, _ := newTestServer(t, "111", "222")
	code, env := getJSON(t, ts.URL+"/cameras")
	if code != http.StatusOK {
		t.Fatalf("GET /cameras = %d", code)
	}
	var data struct {
		Cameras []string `json:"cameras"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatal(err)
	}
	if len(data.Cameras) != 2 || data.Cameras[0] != "111" || data.Cameras[1] != "222" {
		t.Errorf("cameras = %v, want [111 222]", data.Cameras)
	}
}

func TestHandleCameraStatus(t *testing.T) {
	ts, _ := newTestServer(t, "111")
	code, env := getJSON(t, ts.URL+"/cameras/111/status")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var st CameraStatus
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatal(err)
	}
	if st.State != camera.StateReady {
		t.Errorf("state = %s, want ready", st.State)
	}

	code, env = getJSON(t, ts.URL+"/cameras/404/status")
	if code != http.StatusNotFound || env.Error == nil || env.Error.Code != "NOT_FOUND" {
		t.Errorf("unknown camera status = %d, %+v", code, env.Error)
	}
}

func TestHandleLaunchCamera(t *testing.T) {
	layout := testLayout(t)
	backend := camera.NewSynthBackend("111")
	backend.SetInterval(0)
	hub := NewHub()
	m := NewManager(backend, layout, hub)
	t.Cleanup(m.Shutdown)

	writeCameraYAML(t, layout, "111", 30)
	// Config for a camera whose device is not plugged in yet.
	writeCameraYAML(t, layout, "222", 30)
	if err := m.Bootstrap(); err != nil {
		t.Fatalf("Bootstrap() error: %v", err)
	}
	waitStatus(t, m, "222", camera.StateStopped)

	go hub.Run()
	ts := httptest.NewServer(NewServer(m, hub, logging.NewRingBuffer(16)).Router())
	t.Cleanup(ts.Close)

	// The dead camera reports unavailable, and launching it fails the
	// same way while its device is absent.
	code, env := getJSON(t, ts.URL+"/cameras/222/status")
	if code != http.StatusServiceUnavailable || env.Error == nil || env.Error.Code != "UNAVAILABLE" {
		t.Fatalf("stopped camera status = %d, %+v", code, env.Error)
	}
	code, _ = postJSON(t, ts.URL+"/cameras/222/launch")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("launch without device = %d, want 503", code)
	}

	code, _ = postJSON(t, ts.URL+"/cameras/777/launch")
	if code != http.StatusNotFound {
		t.Fatalf("launch without config = %d, want 404", code)
	}

	backend.Attach("222")
	code, env = postJSON(t, ts.URL+"/cameras/222/launch")
	if code != http.StatusOK {
		t.Fatalf("launch after attach = %d, %+v", code, env.Error)
	}
	var st CameraStatus
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatal(err)
	}
	if st.State != camera.StateReady {
		t.Errorf("state after launch = %s, want ready", st.State)
	}
}

func TestHandleStartStopStream(t *testing.T) {
	ts, m := newTestServer(t, "111")
	code, _ := postJSON(t, ts.URL+"/cameras/111/stream/start")
	if code != http.StatusOK {
		t.Fatalf("stream/start = %d", code)
	}
	waitStatus(t, m, "111", camera.StateStreaming)

	code, _ = postJSON(t, ts.URL+"/cameras/111/stream/stop")
	if code != http.StatusOK {
		t.Fatalf("stream/stop = %d", code)
	}
	waitStatus(t, m, "111", camera.StatePaused)

	code, _ = postJSON(t, ts.URL+"/cameras/404/stream/start")
	if code != http.StatusNotFound {
		t.Errorf("stream/start unknown = %d, want 404", code)
	}
}

func TestHandleStartAll(t *testing.T) {
	ts, m := newTestServer(t, "111", "222")
	code, _ := postJSON(t, ts.URL+"/stream/start_all")
	if code != http.StatusOK {
		t.Fatalf("start_all = %d", code)
	}
	waitStatus(t, m, "111", camera.StateStreaming)
	waitStatus(t, m, "222", camera.StateStreaming)

	code, _ = postJSON(t, ts.URL+"/stream/stop_all")
	if code != http.StatusOK {
		t.Fatalf("stop_all = %d", code)
	}
	waitStatus(t, m, "111", camera.StatePaused)
}

func TestHandlePutCameraConfig(t *testing.T) {
	ts, m := newTestServer(t, "111")

	// Invalid config: fps outside the closed set. Camera stays untouched.
	bad := `{"stream_configs":[{"type":"color","format":"rgb8","resolution":"320x240","fps":25}],"alignment":null}`
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/cameras/111/config", strings.NewReader(bad))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var env envelopeJSON
	_ = json.NewDecoder(resp.Body).Decode(&env)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("PUT invalid config = %d, want 400", resp.StatusCode)
	}
	if env.Error == nil || len(env.Error.Details) == 0 || env.Error.Details[0].Field != "stream_configs.color" {
		t.Errorf("validation details = %+v", env.Error)
	}
	rt, _ := m.Runtime("111")
	if rt.Configs()[0].FPS != 30 {
		t.Error("camera config changed despite validation failure")
	}

	// Valid replacement.
	good := `{"stream_configs":[{"type":"depth","format":"z16","resolution":"424x240","fps":15}],"alignment":null}`
	req, _ = http.NewRequest(http.MethodPut, ts.URL+"/cameras/111/config", strings.NewReader(good))
	req.Header.Set("Content-Type", "application/json")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT valid config = %d, want 200", resp.StatusCode)
	}

	code, env2 := getJSON(t, ts.URL+"/cameras/111/config")
	if code != http.StatusOK {
		t.Fatalf("GET config = %d", code)
	}
	var file struct {
		StreamConfigs []frame.StreamConfig `json:"stream_configs"`
		Alignment     *frame.Kind          `json:"alignment"`
	}
	if err := json.Unmarshal(env2.Data, &file); err != nil {
		t.Fatal(err)
	}
	if len(file.StreamConfigs) != 1 || file.StreamConfigs[0].Kind != frame.KindDepth || file.StreamConfigs[0].FPS != 15 {
		t.Errorf("config after PUT = %+v", file.StreamConfigs)
	}

	// YAML body is accepted too.
	yamlBody := "stream_configs:\n  - type: color\n    format: bgr8\n    resolution: 320x240\n    fps: 30\nalignment: null\n"
	req, _ = http.NewRequest(http.MethodPut, ts.URL+"/cameras/111/config", bytes.NewBufferString(yamlBody))
	req.Header.Set("Content-Type", "application/x-yaml")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT yaml config = %d, want 200", resp.StatusCode)
	}
}

func TestHandleLogs(t *testing.T) {
	ts, _ := newTestServer(t, "111")
	code, env := getJSON(t, ts.URL+"/logs?start_line=2&nb_lines=2")
	if code != http.StatusOK {
		t.Fatalf("GET /logs = %d", code)
	}
	var data struct {
		Lines []logging.LogEntry `json:"lines"`
		Next  uint64             `json:"next"`
		Total uint64             `json:"total"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatal(err)
	}
	if len(data.Lines) != 2 || data.Lines[0].Line != 2 {
		t.Errorf("lines = %+v, want 2 lines from line 2", data.Lines)
	}
	if data.Next != 4 || data.Total != 5 {
		t.Errorf("next = %d, total = %d; want 4, 5", data.Next, data.Total)
	}

	code, _ = getJSON(t, ts.URL+"/logs?start_line=oops")
	if code != http.StatusBadRequest {
		t.Errorf("GET /logs bad start_line = %d, want 400", code)
	}
}

func TestEventSocket_DeliversFrames(t *testing.T) {
	ts, m := newTestServer(t, "111")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial error: %v", err)
	}
	defer conn.Close()

	// Connecting is the 0->1 edge: emitters attach, then frames flow once
	// streaming starts.
	if err := m.StartStream("111"); err != nil {
		t.Fatalf("StartStream() error: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	msgType, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ws read error: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Errorf("message type = %d, want binary", msgType)
	}
	env, err := events.Decode(raw)
	if err != nil {
		t.Fatalf("payload is not an envelope: %v", err)
	}
	if env.Event != "111" {
		t.Errorf("event = %q, want 111", env.Event)
	}
	tuple, err := frame.DecodeTuple(env.Data)
	if err != nil {
		t.Fatalf("envelope data is not a frame tuple: %v", err)
	}
	if _, ok := tuple.Slot(frame.KindDepth); !ok {
		t.Error("tuple missing depth slot")
	}
}
