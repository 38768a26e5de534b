// Package camera implements the node-local acquisition pipeline: the
// device driver seam, the process-wide serial registry, group run control,
// and the per-camera capture runtime that turns device frames into
// composite tuples.
package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/argos-vision/argos/internal/frame"
)

var (
	// ErrUnavailable means the requested serial is not enumerated by the
	// backend, or the device refused to open.
	ErrUnavailable = errors.New("camera unavailable")

	// ErrAlreadyOpen means another camera object in this process already
	// owns the serial.
	ErrAlreadyOpen = errors.New("camera already instantiated")
)

// warmupFrames is the number of frames discarded after a device starts so
// auto-exposure settles before any consumer sees data.
const warmupFrames = 30

// serialRegistry guards the process-wide set of serials with an open
// device, so two pipelines can never drive the same physical camera.
type serialRegistry struct {
	mu   sync.Mutex
	open map[string]struct{}
}

var openSerials = &serialRegistry{open: make(map[string]struct{})}

func (r *serialRegistry) tryInsert(sn string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.open[sn]; exists {
		return false
	}
	r.open[sn] = struct{}{}
	return true
}

func (r *serialRegistry) remove(sn string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.open, sn)
}

// Camera owns one open device and produces aligned composite tuples from
// it. Open registers the serial; Cleanup is idempotent and releases it.
type Camera struct {
	sn        string
	configs   []frame.StreamConfig
	alignment frame.Kind
	dev       Device

	mu      sync.Mutex
	cleaned bool
}

// Open claims the serial, validates the stream configuration against the
// device, starts the streams and burns the warm-up frames. On any failure
// the serial is released before returning.
func Open(backend Backend, sn string, configs []frame.StreamConfig, alignment frame.Kind) (*Camera, error) {
	if err := frame.ValidateSet(configs, alignment); err != nil {
		return nil, err
	}
	if !openSerials.tryInsert(sn) {
		return nil, fmt.Errorf("%w: serial %s", ErrAlreadyOpen, sn)
	}

	dev, ok := backend.Device(sn)
	if !ok {
		openSerials.remove(sn)
		return nil, fmt.Errorf("%w: serial %s not enumerated", ErrUnavailable, sn)
	}
	for _, c := range configs {
		if !dev.Supports(c) {
			openSerials.remove(sn)
			return nil, &frame.ConfigError{Kind: c.Kind, Reason: fmt.Sprintf("device %s does not support %s %s@%d", sn, c.Format, c.Resolution, c.FPS)}
		}
	}

	ordered := frame.SortSlots(configs)
	if err := dev.Start(ordered); err != nil {
		openSerials.remove(sn)
		return nil, fmt.Errorf("failed to start streams on %s: %w", sn, err)
	}

	cam := &Camera{sn: sn, configs: ordered, alignment: alignment, dev: dev}
	for i := 0; i < warmupFrames; i++ {
		if _, err := dev.Capture(context.Background()); err != nil {
			cam.Cleanup()
			return nil, fmt.Errorf("warm-up capture on %s failed: %w", sn, err)
		}
	}
	return cam, nil
}

// Serial returns the serial number of the owned device.
func (c *Camera) Serial() string { return c.sn }

// Configs returns the active stream configuration in canonical slot order.
func (c *Camera) Configs() []frame.StreamConfig { return c.configs }

// Alignment returns the alignment target kind, or "" when disabled.
func (c *Camera) Alignment() frame.Kind { return c.alignment }

// Capture blocks for the next composite frame and applies slot alignment.
// Callers must serialize Capture; the pipeline keeps at most one capture
// outstanding per device.
func (c *Camera) Capture(ctx context.Context) (*frame.Tuple, error) {
	t, err := c.dev.Capture(ctx)
	if err != nil {
		return nil, err
	}
	t.CameraSN = c.sn
	if c.alignment != "" {
		alignTuple(t, c.alignment)
	}
	return t, nil
}

// Cleanup stops the streams and releases the serial. Safe to call more
// than once and from any goroutine.
func (c *Camera) Cleanup() {
	c.mu.Lock()
	if c.cleaned {
		c.mu.Unlock()
		return
	}
	c.cleaned = true
	c.mu.Unlock()

	_ = c.dev.Stop()
	openSerials.remove(c.sn)
}

// alignTuple resamples every image slot onto the alignment target's pixel
// grid so per-pixel correspondence holds across slots. Pose slots carry no
// pixel grid and pass through untouched.
func alignTuple(t *frame.Tuple, target frame.Kind) {
	ref, ok := t.Slot(target)
	if !ok || len(ref.Shape) < 2 {
		return
	}
	refH, refW := ref.Shape[0], ref.Shape[1]
	for i := range t.Slots {
		s := &t.Slots[i]
		if s.Kind == target || s.Kind == frame.KindPose || len(s.Shape) < 2 {
			continue
		}
		if s.Shape[0] == refH && s.Shape[1] == refW {
			continue
		}
		resampleSlot(s, refH, refW)
	}
}

// resampleSlot rescales one slot to h x w by nearest neighbor, preserving
// dtype and any trailing channel dimension.
func resampleSlot(s *frame.Slot, h, w int) {
	srcH, srcW := s.Shape[0], s.Shape[1]
	channels := 1
	if len(s.Shape) == 3 {
		channels = s.Shape[2]
	}
	elemSize, err := frame.DTypeSize(s.DType)
	if err != nil {
		return
	}
	pixel := channels * elemSize
	out := make([]byte, h*w*pixel)
	for y := 0; y < h; y++ {
		srcY := y * srcH / h
		for x := 0; x < w; x++ {
			srcX := x * srcW / w
			src := (srcY*srcW + srcX) * pixel
			dst := (y*w + x) * pixel
			copy(out[dst:dst+pixel], s.Data[src:src+pixel])
		}
	}
	s.Data = out
	if len(s.Shape) == 3 {
		s.Shape = []int{h, w, channels}
	} else {
		s.Shape = []int{h, w}
	}
}
