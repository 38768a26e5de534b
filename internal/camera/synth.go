package camera

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/argos-vision/argos/internal/frame"
)

// SynthBackend is a camera backend that fabricates deterministic frames.
// Nodes run it on hosts without attached hardware so the full pipeline,
// fan-out and recording path stay exercisable.
type SynthBackend struct {
	mu       sync.Mutex
	devices  map[string]*SynthDevice
	interval time.Duration
	paced    bool
}

// NewSynthBackend returns a backend enumerating one synthetic device per
// serial, pacing captures at the configured frame rate.
func NewSynthBackend(serials ...string) *SynthBackend {
	b := &SynthBackend{devices: make(map[string]*SynthDevice), paced: true}
	for _, sn := range serials {
		b.devices[sn] = newSynthDevice(sn, b)
	}
	return b
}

// SetInterval overrides frame pacing for every device. Zero disables
// pacing entirely, which tests use to capture at full speed.
func (b *SynthBackend) SetInterval(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interval = d
	b.paced = false
}

// Attach adds a serial at runtime, simulating hot-plug.
func (b *SynthBackend) Attach(serial string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.devices[serial]; !exists {
		b.devices[serial] = newSynthDevice(serial, b)
	}
}

// Detach removes a serial, simulating unplug. Open devices keep running
// until stopped.
func (b *SynthBackend) Detach(serial string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.devices, serial)
}

func (b *SynthBackend) Serials() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	serials := make([]string, 0, len(b.devices))
	for sn := range b.devices {
		serials = append(serials, sn)
	}
	sort.Strings(serials)
	return serials
}

func (b *SynthBackend) Device(serial string) (Device, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	dev, ok := b.devices[serial]
	return dev, ok
}

func (b *SynthBackend) captureInterval(fps int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.paced {
		return b.interval
	}
	if fps <= 0 {
		fps = 30
	}
	return time.Second / time.Duration(fps)
}

// SynthDevice fabricates frames for one serial. The pixel pattern is a
// pure function of serial and frame sequence so recordings are comparable
// across runs.
type SynthDevice struct {
	sn      string
	backend *SynthBackend
	seed    uint64

	mu      sync.Mutex
	configs []frame.StreamConfig
	started bool
	seq     uint64
	stopCh  chan struct{}
}

func newSynthDevice(sn string, backend *SynthBackend) *SynthDevice {
	var seed uint64
	for _, c := range sn {
		seed = seed*131 + uint64(c)
	}
	return &SynthDevice{sn: sn, backend: backend, seed: seed}
}

// Supports accepts every stream in the closed configuration sets.
func (d *SynthDevice) Supports(cfg frame.StreamConfig) bool {
	return cfg.Validate() == nil
}

func (d *SynthDevice) Start(configs []frame.StreamConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return fmt.Errorf("device %s already started", d.sn)
	}
	d.configs = configs
	d.started = true
	d.seq = 0
	d.stopCh = make(chan struct{})
	return nil
}

func (d *SynthDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return nil
	}
	d.started = false
	close(d.stopCh)
	return nil
}

// Capture waits one frame interval, then fabricates a slot per configured
// stream. The composite rate follows the slowest configured stream.
func (d *SynthDevice) Capture(ctx context.Context) (*frame.Tuple, error) {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil, fmt.Errorf("device %s is stopped", d.sn)
	}
	configs := d.configs
	stopCh := d.stopCh
	seq := d.seq
	d.seq++
	d.mu.Unlock()

	minFPS := 0
	for _, c := range configs {
		if minFPS == 0 || c.FPS < minFPS {
			minFPS = c.FPS
		}
	}
	if interval := d.backend.captureInterval(minFPS); interval > 0 {
		timer := time.NewTimer(interval)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-stopCh:
			return nil, fmt.Errorf("device %s stopped during capture", d.sn)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		select {
		case <-stopCh:
			return nil, fmt.Errorf("device %s stopped during capture", d.sn)
		default:
		}
	}

	t := &frame.Tuple{Timestamp: frame.Now()}
	for _, c := range configs {
		t.Slots = append(t.Slots, d.renderSlot(c, seq))
	}
	return t, nil
}

func (d *SynthDevice) renderSlot(cfg frame.StreamConfig, seq uint64) frame.Slot {
	w, h := cfg.Resolution.Width, cfg.Resolution.Height
	switch cfg.Kind {
	case frame.KindColor:
		data := make([]byte, h*w*3)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := (y*w + x) * 3
				data[i] = byte((uint64(x) + seq + d.seed) % 256)
				data[i+1] = byte((uint64(y) + seq) % 256)
				data[i+2] = byte((uint64(x+y) + 2*seq) % 256)
			}
		}
		return frame.Slot{Kind: cfg.Kind, DType: frame.DTypeUint8, Shape: []int{h, w, 3}, Data: data}
	case frame.KindDepth:
		data := make([]byte, h*w*2)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				// Millimeter ramp sweeping across the image per frame.
				v := uint16((uint64(x*3+y*2) + seq*17 + d.seed) % 8000)
				binary.LittleEndian.PutUint16(data[(y*w+x)*2:], v)
			}
		}
		return frame.Slot{Kind: cfg.Kind, DType: frame.DTypeUint16LE, Shape: []int{h, w}, Data: data}
	case frame.KindPose:
		// Translation plus orientation quaternion.
		vals := []float32{
			float32(seq) * 0.01,
			float32(math.Sin(float64(seq) * 0.01)),
			0,
			1, 0, 0, 0,
		}
		data := make([]byte, len(vals)*4)
		for i, v := range vals {
			binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
		}
		return frame.Slot{Kind: cfg.Kind, DType: frame.DTypeFloat32, Shape: []int{len(vals)}, Data: data}
	default:
		// Infrared and fisheye are monochrome.
		if cfg.Format == frame.FormatY16 {
			data := make([]byte, h*w*2)
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					v := uint16((uint64(x+y)*37 + seq + d.seed) % 65536)
					binary.LittleEndian.PutUint16(data[(y*w+x)*2:], v)
				}
			}
			return frame.Slot{Kind: cfg.Kind, DType: frame.DTypeUint16LE, Shape: []int{h, w}, Data: data}
		}
		data := make([]byte, h*w)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				data[y*w+x] = byte((uint64(x^y) + seq + d.seed) % 256)
			}
		}
		return frame.Slot{Kind: cfg.Kind, DType: frame.DTypeUint8, Shape: []int{h, w}, Data: data}
	}
}
