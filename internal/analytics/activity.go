package analytics

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/argos-vision/argos/internal/frame"
)

// CameraActivity is the observed state of one camera stream.
type CameraActivity struct {
	Event     string    `json:"event"`
	Frames    int64     `json:"frames"`
	Timestamp float64   `json:"timestamp"`
	LastSeen  time.Time `json:"last_seen"`
	Slots     int       `json:"slots"`
}

// ActivityMonitor is the activity sub-service: it consumes every camera
// stream, tracks per-camera frame counters, and periodically logs which
// streams are live. Streams silent for longer than staleAfter are
// reported idle.
type ActivityMonitor struct {
	logger     *slog.Logger
	staleAfter time.Duration

	mu      sync.Mutex
	cameras map[string]*CameraActivity

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

const (
	activityLogInterval = 30 * time.Second
	activityStaleAfter  = 10 * time.Second
)

// NewActivityMonitor creates the monitor. Nothing runs until Start.
func NewActivityMonitor(logger *slog.Logger) *ActivityMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivityMonitor{
		logger:     logger.With("component", "activity"),
		staleAfter: activityStaleAfter,
		cameras:    make(map[string]*CameraActivity),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Name implements Subscriber.
func (m *ActivityMonitor) Name() string { return "activity" }

// Wants implements Subscriber. The monitor consumes every camera stream.
func (m *ActivityMonitor) Wants(event string) bool { return true }

// HandleFrame implements Subscriber.
func (m *ActivityMonitor) HandleFrame(event string, payload []byte) {
	tuple, err := frame.DecodeTuple(payload)
	if err != nil {
		m.logger.Warn("Undecodable frame", "event", event, "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cam, ok := m.cameras[event]
	if !ok {
		cam = &CameraActivity{Event: event}
		m.cameras[event] = cam
		m.logger.Info("Stream active", "event", event, "camera", tuple.CameraSN)
	}
	cam.Frames++
	cam.Timestamp = tuple.Timestamp
	cam.LastSeen = time.Now()
	cam.Slots = len(tuple.Slots)
}

// Stats returns a snapshot of every observed stream, sorted by event.
func (m *ActivityMonitor) Stats() []CameraActivity {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]CameraActivity, 0, len(m.cameras))
	for _, cam := range m.cameras {
		out = append(out, *cam)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Event < out[j].Event })
	return out
}

// Start launches the periodic summary log.
func (m *ActivityMonitor) Start() {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(activityLogInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.logSummary()
			}
		}
	}()
}

// Stop halts the summary log.
func (m *ActivityMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

func (m *ActivityMonitor) logSummary() {
	now := time.Now()
	live, idle := 0, 0
	var frames int64

	m.mu.Lock()
	for _, cam := range m.cameras {
		frames += cam.Frames
		if now.Sub(cam.LastSeen) > m.staleAfter {
			idle++
		} else {
			live++
		}
	}
	m.mu.Unlock()

	m.logger.Info("Stream summary", "live", live, "idle", idle, "frames", frames)
}
