package frame

import (
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// DType strings follow the NumPy array-interface notation so stored frames
// round-trip into analytics tooling without translation.
const (
	DTypeUint8    = "|u1"
	DTypeUint16LE = "<u2"
	DTypeFloat32  = "<f4"
)

// DTypeSize returns the per-element byte size of a dtype string.
func DTypeSize(dtype string) (int, error) {
	switch dtype {
	case DTypeUint8:
		return 1, nil
	case DTypeUint16LE:
		return 2, nil
	case DTypeFloat32:
		return 4, nil
	}
	return 0, fmt.Errorf("unknown dtype %q", dtype)
}

// FormatDType maps a stream format to the dtype of its sample array.
func FormatDType(f Format) string {
	switch f {
	case FormatZ16, FormatY16:
		return DTypeUint16LE
	case FormatSixDOF:
		return DTypeFloat32
	default:
		return DTypeUint8
	}
}

// Slot is the sample array captured for one stream kind within a composite
// frame. Data holds the raw array bytes in row-major order.
type Slot struct {
	Kind  Kind   `cbor:"kind" json:"kind"`
	DType string `cbor:"dtype" json:"dtype"`
	Shape []int  `cbor:"shape" json:"shape"`
	Data  []byte `cbor:"data" json:"data"`
}

// Elements returns the element count implied by the slot shape.
func (s Slot) Elements() int {
	n := 1
	for _, d := range s.Shape {
		n *= d
	}
	return n
}

// Tuple is one composite frame: the time-aligned slots captured across all
// configured streams of a camera in a single pipeline wait.
type Tuple struct {
	CameraSN  string  `cbor:"camera_sn" json:"camera_sn"`
	Timestamp float64 `cbor:"timestamp" json:"timestamp"`
	Slots     []Slot  `cbor:"slots" json:"slots"`
}

// Slot returns the slot for kind k, if the tuple carries one.
func (t *Tuple) Slot(k Kind) (Slot, bool) {
	for _, s := range t.Slots {
		if s.Kind == k {
			return s, true
		}
	}
	return Slot{}, false
}

// Encode serializes the tuple for the event socket.
func (t *Tuple) Encode() ([]byte, error) {
	data, err := cbor.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame tuple: %w", err)
	}
	return data, nil
}

// DecodeTuple parses an event-socket frame payload.
func DecodeTuple(data []byte) (*Tuple, error) {
	var t Tuple
	if err := cbor.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode frame tuple: %w", err)
	}
	return &t, nil
}

// Now returns the capture timestamp for a frame taken at this instant:
// seconds since the Unix epoch with sub-millisecond precision.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// TimestampToken renders a capture timestamp for use inside a filename.
// The fractional second is kept to microsecond precision and the decimal
// point is replaced so the token never introduces an extra extension.
func TimestampToken(ts float64) string {
	return strings.ReplaceAll(fmt.Sprintf("%.6f", ts), ".", "_")
}

// StoredName builds the dataset filename for one stored slot:
// <node>_<camera>_<timestamp>_<kind>.npy.
func StoredName(nodeID int, cameraSN string, ts float64, kind Kind) string {
	return fmt.Sprintf("%d_%s_%s_%s.npy", nodeID, cameraSN, TimestampToken(ts), kind)
}
