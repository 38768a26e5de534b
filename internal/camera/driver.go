package camera

import (
	"context"

	"github.com/argos-vision/argos/internal/frame"
)

// Backend enumerates attached depth cameras and opens devices by serial.
// Implementations wrap a vendor SDK or, on camera-less hosts, a synthetic
// generator with identical timing behavior.
type Backend interface {
	// Serials lists the serial numbers currently enumerated.
	Serials() []string

	// Device returns a handle for the given serial. The second result is
	// false when the serial is not attached.
	Device(serial string) (Device, bool)
}

// Device is one openable camera. Start, Capture and Stop are called from a
// single capture goroutine; Supports may be called before Start from other
// goroutines.
type Device interface {
	// Supports reports whether the device can produce the given stream.
	Supports(cfg frame.StreamConfig) bool

	// Start begins streaming the given configuration set.
	Start(configs []frame.StreamConfig) error

	// Capture blocks until the next composite frame spanning every started
	// stream is available, or ctx is done, or the device is stopped.
	Capture(ctx context.Context) (*frame.Tuple, error)

	// Stop halts streaming and releases device resources. Any blocked
	// Capture returns with an error.
	Stop() error
}
