package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/argos-vision/argos/internal/frame"
)

// State is the lifecycle phase of a capture runtime.
type State string

const (
	// StateLoading means the device is being opened and warmed up.
	StateLoading State = "loading"
	// StateReady means the device is open and the capture loop is waiting
	// for its group's run signal.
	StateReady State = "ready"
	// StateStreaming means frames are being captured and delivered.
	StateStreaming State = "streaming"
	// StatePaused means the group's run signal was cleared after streaming.
	StatePaused State = "paused"
	// StateStopped is terminal: the loop exited, cleanly or on error.
	StateStopped State = "stopped"
)

// StreamFunc receives each captured tuple. It runs on the capture
// goroutine, so implementations hand the tuple off rather than block.
type StreamFunc func(*frame.Tuple)

// Runtime drives one camera: it owns the capture goroutine, gates it on
// the group run signal, and delivers tuples to either the attached stream
// callback or the bounded local queue.
type Runtime struct {
	sn        string
	configs   []frame.StreamConfig
	alignment frame.Kind
	signal    *Signal
	queue     *TupleQueue
	logger    *slog.Logger

	callback atomic.Pointer[StreamFunc]
	killed   atomic.Bool
	done     chan struct{}
	ready    chan struct{}
	onceRdy  sync.Once

	mu      sync.Mutex
	cam     *Camera
	state   State
	lastErr error
}

// Launch starts a runtime for the serial. It returns immediately in the
// loading state; the device open and warm-up happen on the capture
// goroutine. Use WaitReady to observe the outcome.
func Launch(backend Backend, sn string, configs []frame.StreamConfig, alignment frame.Kind, sig *Signal, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runtime{
		sn:        sn,
		configs:   frame.SortSlots(configs),
		alignment: alignment,
		signal:    sig,
		queue:     NewTupleQueue(DefaultQueueSize),
		logger:    logger.With("component", "camera", "serial", sn),
		done:      make(chan struct{}),
		ready:     make(chan struct{}),
		state:     StateLoading,
	}
	go r.run(backend)
	return r
}

func (r *Runtime) run(backend Backend) {
	defer close(r.done)

	cam, err := Open(backend, r.sn, r.configs, r.alignment)
	if err != nil {
		r.fail(fmt.Errorf("failed to open camera: %w", err))
		return
	}
	r.mu.Lock()
	r.cam = cam
	r.mu.Unlock()

	if r.killed.Load() {
		cam.Cleanup()
		r.fail(nil)
		return
	}

	r.setState(StateReady)
	r.onceRdy.Do(func() { close(r.ready) })
	r.logger.Info("camera ready", "streams", len(r.configs), "alignment", string(r.alignment))

	for {
		if r.State() == StateStreaming && !r.signal.Running() {
			r.setState(StatePaused)
			r.logger.Debug("camera paused")
		}
		if !r.signal.awaitRun(&r.killed) {
			break
		}
		if r.State() != StateStreaming {
			r.setState(StateStreaming)
			r.logger.Debug("camera streaming")
		}

		tuple, err := cam.Capture(context.Background())
		if err != nil {
			if r.killed.Load() {
				break
			}
			r.mu.Lock()
			r.lastErr = fmt.Errorf("capture failed: %w", err)
			r.mu.Unlock()
			r.logger.Error("capture failed", "error", err)
			break
		}
		if r.killed.Load() {
			break
		}
		r.deliver(tuple)
	}

	cam.Cleanup()
	r.setState(StateStopped)
	r.logger.Info("camera stopped")
}

func (r *Runtime) deliver(t *frame.Tuple) {
	if cb := r.callback.Load(); cb != nil {
		(*cb)(t)
		return
	}
	r.queue.Push(t)
}

func (r *Runtime) fail(err error) {
	r.mu.Lock()
	if err != nil {
		r.lastErr = err
	}
	r.state = StateStopped
	r.mu.Unlock()
	r.onceRdy.Do(func() { close(r.ready) })
	if err != nil {
		r.logger.Error("camera failed", "error", err)
	}
}

func (r *Runtime) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// WaitReady blocks until the open either succeeds or fails. It returns the
// open error, if any.
func (r *Runtime) WaitReady(ctx context.Context) error {
	select {
	case <-r.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateStopped {
		return r.lastErr
	}
	return nil
}

// SetStreamFunc atomically swaps the frame callback. A nil fn detaches the
// callback, returning delivery to the local queue. Frames already in
// flight finish under whichever sink they started with.
func (r *Runtime) SetStreamFunc(fn StreamFunc) {
	if fn == nil {
		r.callback.Store(nil)
		return
	}
	r.callback.Store(&fn)
}

// NextFrame pops the oldest locally queued tuple. It never blocks; the
// second result is false when the queue is empty.
func (r *Runtime) NextFrame() (*frame.Tuple, bool) {
	return r.queue.Pop()
}

// Serial returns the camera serial number.
func (r *Runtime) Serial() string { return r.sn }

// Configs returns the stream configuration in canonical slot order.
func (r *Runtime) Configs() []frame.StreamConfig { return r.configs }

// Alignment returns the alignment target, "" when disabled.
func (r *Runtime) Alignment() frame.Kind { return r.alignment }

// State returns the current lifecycle phase.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the error that stopped the runtime, if any.
func (r *Runtime) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Dropped returns how many tuples the local queue has discarded.
func (r *Runtime) Dropped() uint64 {
	return r.queue.Dropped()
}

// Cleanup kills the capture loop, waits for it to exit and releases the
// device. Idempotent; safe while the loop is blocked on the run gate or
// inside a capture.
func (r *Runtime) Cleanup() {
	r.killed.Store(true)
	r.signal.wake()
	r.mu.Lock()
	cam := r.cam
	r.mu.Unlock()
	if cam != nil {
		// Unblocks a capture in flight.
		cam.Cleanup()
	}
	<-r.done
}
