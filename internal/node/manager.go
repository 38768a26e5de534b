package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/argos-vision/argos/internal/camera"
	"github.com/argos-vision/argos/internal/config"
	"github.com/argos-vision/argos/internal/frame"
)

// ErrUnknownCamera means the serial has no runtime on this node.
var ErrUnknownCamera = errors.New("unknown camera")

// relaunchTimeout bounds how long a config replacement waits for the new
// runtime to finish opening before reporting.
const relaunchTimeout = 30 * time.Second

// Manager owns every camera runtime on the node, the group run signals,
// and the wiring between runtimes and the event socket.
type Manager struct {
	backend camera.Backend
	layout  config.Layout
	hub     *Hub
	logger  *slog.Logger

	mu       sync.RWMutex
	groups   config.Groups
	signals  map[string]*camera.Signal
	runtimes map[string]*camera.Runtime
	emitting bool
}

// NewManager creates a camera manager bound to the event-socket hub.
func NewManager(backend camera.Backend, layout config.Layout, hub *Hub) *Manager {
	return &Manager{
		backend:  backend,
		layout:   layout,
		hub:      hub,
		logger:   slog.Default().With("component", "camera-manager"),
		signals:  make(map[string]*camera.Signal),
		runtimes: make(map[string]*camera.Runtime),
	}
}

// Bootstrap loads the group map and launches a runtime for every camera
// config on disk. Launches happen concurrently; open failures are logged
// and surface through camera status, never abort the node.
func (m *Manager) Bootstrap() error {
	groups, err := config.LoadGroups(m.layout.GroupsFilePath())
	if err != nil {
		return fmt.Errorf("failed to load camera groups: %w", err)
	}
	m.mu.Lock()
	m.groups = groups
	m.mu.Unlock()

	serials, err := config.ListCameraSerials(m.layout.CamerasDir())
	if err != nil {
		return err
	}
	for _, sn := range serials {
		file, err := config.LoadCameraFile(m.layout.CameraFilePath(sn))
		if err != nil {
			m.logger.Error("skipping camera with invalid config", "serial", sn, "error", err)
			continue
		}
		m.Launch(sn, file)
	}
	m.logger.Info("camera bootstrap complete", "configured", len(serials), "groups", len(groups))
	return nil
}

// groupKeyFor maps a serial to its signal key. Cameras outside any group
// get a private key so they start and pause alone.
func (m *Manager) groupKeyFor(serial string) (key, groupName string) {
	if name, ok := m.groups.GroupOf(serial); ok {
		return "group:" + name, name
	}
	return "serial:" + serial, ""
}

// signalFor returns the run gate for a serial, creating it on first use.
// Callers must hold m.mu.
func (m *Manager) signalFor(serial string) *camera.Signal {
	key, _ := m.groupKeyFor(serial)
	sig, ok := m.signals[key]
	if !ok {
		sig = camera.NewSignal()
		m.signals[key] = sig
	}
	return sig
}

// Launch starts a runtime for the serial. An existing runtime for the
// serial is cleaned up first.
func (m *Manager) Launch(serial string, file *config.CameraFile) *camera.Runtime {
	m.mu.Lock()
	if old, exists := m.runtimes[serial]; exists {
		m.mu.Unlock()
		old.Cleanup()
		m.mu.Lock()
	}
	sig := m.signalFor(serial)
	rt := camera.Launch(m.backend, serial, file.StreamConfigs, file.AlignmentKind(), sig, m.logger)
	m.runtimes[serial] = rt
	if m.emitting {
		m.attachEmitter(rt)
	}
	m.mu.Unlock()

	go func() {
		if err := rt.WaitReady(context.Background()); err != nil {
			m.logger.Error("camera launch failed", "serial", serial, "error", err)
		}
	}()
	return rt
}

// Relaunch atomically replaces a camera's configuration: the old runtime
// is stopped and released, the new config is persisted, and a fresh
// runtime is opened. The caller has already validated file.
func (m *Manager) Relaunch(serial string, file *config.CameraFile) error {
	m.mu.RLock()
	old, exists := m.runtimes[serial]
	m.mu.RUnlock()
	if !exists {
		return ErrUnknownCamera
	}

	old.Cleanup()
	if err := config.SaveCameraFile(m.layout.CameraFilePath(serial), file); err != nil {
		return err
	}

	rt := m.Launch(serial, file)
	ctx, cancel := context.WithTimeout(context.Background(), relaunchTimeout)
	defer cancel()
	if err := rt.WaitReady(ctx); err != nil {
		return fmt.Errorf("camera %s did not come back after config change: %w", serial, err)
	}
	m.logger.Info("camera config replaced", "serial", serial, "streams", len(file.StreamConfigs))
	return nil
}

// LaunchFromDisk starts (or restarts) a camera from its persisted config
// file. This is the recovery path after a runtime death; nothing restarts
// a camera on its own.
func (m *Manager) LaunchFromDisk(serial string) error {
	file, err := config.LoadCameraFile(m.layout.CameraFilePath(serial))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrUnknownCamera
		}
		return err
	}

	rt := m.Launch(serial, file)
	ctx, cancel := context.WithTimeout(context.Background(), relaunchTimeout)
	defer cancel()
	if err := rt.WaitReady(ctx); err != nil {
		return fmt.Errorf("camera %s failed to launch: %w", serial, err)
	}
	m.logger.Info("camera launched from persisted config", "serial", serial)
	return nil
}

// Runtime returns the runtime for a serial.
func (m *Manager) Runtime(serial string) (*camera.Runtime, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.runtimes[serial]
	return rt, ok
}

// Serials lists every camera with a runtime, sorted.
func (m *Manager) Serials() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	serials := make([]string, 0, len(m.runtimes))
	for sn := range m.runtimes {
		serials = append(serials, sn)
	}
	sort.Strings(serials)
	return serials
}

// CameraStatus is the externally visible state of one camera runtime.
type CameraStatus struct {
	Serial    string               `json:"serial"`
	State     camera.State         `json:"state"`
	Group     string               `json:"group,omitempty"`
	Streams   []frame.StreamConfig `json:"streams"`
	Alignment frame.Kind           `json:"alignment,omitempty"`
	Dropped   uint64               `json:"dropped_frames"`
	Error     string               `json:"error,omitempty"`
}

// Status reports the state of one camera.
func (m *Manager) Status(serial string) (CameraStatus, error) {
	m.mu.RLock()
	rt, ok := m.runtimes[serial]
	_, groupName := m.groupKeyFor(serial)
	m.mu.RUnlock()
	if !ok {
		return CameraStatus{}, ErrUnknownCamera
	}
	st := CameraStatus{
		Serial:    serial,
		State:     rt.State(),
		Group:     groupName,
		Streams:   rt.Configs(),
		Alignment: rt.Alignment(),
		Dropped:   rt.Dropped(),
	}
	if err := rt.Err(); err != nil {
		st.Error = err.Error()
	}
	return st, nil
}

// StartStream opens the run gate of the camera's group.
func (m *Manager) StartStream(serial string) error {
	m.mu.Lock()
	rt, ok := m.runtimes[serial]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownCamera
	}
	sig := m.signalFor(serial)
	m.mu.Unlock()

	if rt.State() == camera.StateStopped {
		return fmt.Errorf("camera %s is stopped", serial)
	}
	sig.Start()
	return nil
}

// StopStream closes the run gate of the camera's group.
func (m *Manager) StopStream(serial string) error {
	m.mu.Lock()
	_, ok := m.runtimes[serial]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownCamera
	}
	sig := m.signalFor(serial)
	m.mu.Unlock()

	sig.Pause()
	return nil
}

// StartAll opens every run gate on the node.
func (m *Manager) StartAll() int {
	m.mu.Lock()
	// Materialize gates for every runtime before starting them.
	for sn := range m.runtimes {
		m.signalFor(sn)
	}
	signals := make([]*camera.Signal, 0, len(m.signals))
	for _, sig := range m.signals {
		signals = append(signals, sig)
	}
	count := len(m.runtimes)
	m.mu.Unlock()

	for _, sig := range signals {
		sig.Start()
	}
	return count
}

// StopAll closes every run gate on the node.
func (m *Manager) StopAll() int {
	m.mu.Lock()
	signals := make([]*camera.Signal, 0, len(m.signals))
	for _, sig := range m.signals {
		signals = append(signals, sig)
	}
	count := len(m.runtimes)
	m.mu.Unlock()

	for _, sig := range signals {
		sig.Pause()
	}
	return count
}

// AttachEmitters routes every runtime's frames onto the event socket.
// Called on the hub's 0->1 client transition.
func (m *Manager) AttachEmitters() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitting = true
	for _, rt := range m.runtimes {
		m.attachEmitter(rt)
	}
	m.logger.Debug("frame emitters attached", "cameras", len(m.runtimes))
}

// DetachEmitters returns every runtime to local queueing. Called on the
// hub's 1->0 client transition.
func (m *Manager) DetachEmitters() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitting = false
	for _, rt := range m.runtimes {
		rt.SetStreamFunc(nil)
	}
	m.logger.Debug("frame emitters detached", "cameras", len(m.runtimes))
}

// attachEmitter wires one runtime to the hub. Callers hold m.mu.
func (m *Manager) attachEmitter(rt *camera.Runtime) {
	hub := m.hub
	logger := m.logger
	rt.SetStreamFunc(func(t *frame.Tuple) {
		payload, err := t.Encode()
		if err != nil {
			logger.Error("failed to encode frame", "serial", t.CameraSN, "error", err)
			return
		}
		hub.Emit(t.CameraSN, payload)
	})
}

// Shutdown stops every runtime in parallel and waits for all of them.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	runtimes := make([]*camera.Runtime, 0, len(m.runtimes))
	for _, rt := range m.runtimes {
		runtimes = append(runtimes, rt)
	}
	m.runtimes = make(map[string]*camera.Runtime)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, rt := range runtimes {
		wg.Add(1)
		go func(rt *camera.Runtime) {
			defer wg.Done()
			rt.Cleanup()
		}(rt)
	}
	wg.Wait()
	m.logger.Info("all cameras stopped", "count", len(runtimes))
}
