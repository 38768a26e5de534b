// Package frame defines the stream configuration model shared by every
// service: the closed sets of stream kinds, pixel formats, resolutions and
// frame rates a depth camera can produce, plus the composite frame tuple
// and its wire and on-disk encodings.
package frame

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind identifies one sensor stream of a depth camera.
type Kind string

const (
	KindColor    Kind = "color"
	KindDepth    Kind = "depth"
	KindFisheye  Kind = "fisheye"
	KindInfrared Kind = "infrared"
	KindPose     Kind = "pose"
)

// Kinds lists every stream kind in canonical slot order. Composite frames
// carry their slots in this order regardless of configuration order.
var Kinds = []Kind{KindColor, KindDepth, KindFisheye, KindInfrared, KindPose}

// Valid reports whether k is a known stream kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// slotIndex returns the canonical position of k, or -1.
func slotIndex(k Kind) int {
	for i, known := range Kinds {
		if k == known {
			return i
		}
	}
	return -1
}

// Format is a pixel or sample format of one stream.
type Format string

const (
	FormatRGB8   Format = "rgb8"
	FormatBGR8   Format = "bgr8"
	FormatRGBA8  Format = "rgba8"
	FormatYUYV   Format = "yuyv"
	FormatZ16    Format = "z16"
	FormatY8     Format = "y8"
	FormatY16    Format = "y16"
	FormatSixDOF Format = "sixdof"
)

// kindFormats is the closed compatibility matrix between stream kinds and
// sample formats.
var kindFormats = map[Kind][]Format{
	KindColor:    {FormatRGB8, FormatBGR8, FormatRGBA8, FormatYUYV},
	KindDepth:    {FormatZ16},
	KindFisheye:  {FormatY8},
	KindInfrared: {FormatY8, FormatY16},
	KindPose:     {FormatSixDOF},
}

// Formats returns the sample formats valid for kind k.
func (k Kind) Formats() []Format {
	return kindFormats[k]
}

// Allows reports whether format f is valid for kind k.
func (k Kind) Allows(f Format) bool {
	for _, allowed := range kindFormats[k] {
		if f == allowed {
			return true
		}
	}
	return false
}

// Resolution is a stream resolution in pixels. It travels as a
// "WIDTHxHEIGHT" string in both YAML and JSON.
type Resolution struct {
	Width  int
	Height int
}

// Resolutions is the closed set of stream resolutions the pipeline accepts.
var Resolutions = []Resolution{
	{320, 180},
	{320, 240},
	{424, 240},
	{640, 360},
	{640, 480},
	{848, 480},
	{960, 540},
	{1280, 720},
	{1280, 800},
	{1920, 1080},
}

// Valid reports whether r is one of the supported resolutions.
func (r Resolution) Valid() bool {
	for _, known := range Resolutions {
		if r == known {
			return true
		}
	}
	return false
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ParseResolution parses a "WIDTHxHEIGHT" string.
func ParseResolution(s string) (Resolution, error) {
	w, h, ok := strings.Cut(strings.TrimSpace(s), "x")
	if !ok {
		return Resolution{}, fmt.Errorf("invalid resolution %q: expected WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return Resolution{}, fmt.Errorf("invalid resolution width %q", w)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return Resolution{}, fmt.Errorf("invalid resolution height %q", h)
	}
	return Resolution{Width: width, Height: height}, nil
}

// MarshalYAML encodes the resolution as "WIDTHxHEIGHT".
func (r Resolution) MarshalYAML() (interface{}, error) {
	return r.String(), nil
}

// UnmarshalYAML accepts the "WIDTHxHEIGHT" form.
func (r *Resolution) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseResolution(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalJSON encodes the resolution as "WIDTHxHEIGHT".
func (r Resolution) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(r.String())), nil
}

// UnmarshalJSON accepts the "WIDTHxHEIGHT" form.
func (r *Resolution) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("invalid resolution value: %w", err)
	}
	parsed, err := ParseResolution(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// FrameRates is the closed set of per-stream frame rates.
var FrameRates = []int{6, 15, 30, 60, 90}

// ValidFPS reports whether fps is a supported frame rate.
func ValidFPS(fps int) bool {
	for _, known := range FrameRates {
		if fps == known {
			return true
		}
	}
	return false
}

// StreamConfig describes one sensor stream of a camera: what kind of data
// it produces, in which format, at which resolution and rate.
type StreamConfig struct {
	Kind       Kind       `yaml:"type" json:"type"`
	Format     Format     `yaml:"format" json:"format"`
	Resolution Resolution `yaml:"resolution" json:"resolution"`
	FPS        int        `yaml:"fps" json:"fps"`
}

// ConfigError reports an invalid stream configuration. Kind is the stream
// the error refers to; it is empty for set-level problems.
type ConfigError struct {
	Kind   Kind
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("invalid stream configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid %s stream configuration: %s", e.Kind, e.Reason)
}

// Validate checks a single stream config against the closed sets.
func (c StreamConfig) Validate() error {
	if !c.Kind.Valid() {
		return &ConfigError{Kind: c.Kind, Reason: fmt.Sprintf("unknown stream type %q", string(c.Kind))}
	}
	if !c.Kind.Allows(c.Format) {
		return &ConfigError{Kind: c.Kind, Reason: fmt.Sprintf("format %q not valid for %s streams", string(c.Format), c.Kind)}
	}
	if !c.Resolution.Valid() {
		return &ConfigError{Kind: c.Kind, Reason: fmt.Sprintf("unsupported resolution %s", c.Resolution)}
	}
	if !ValidFPS(c.FPS) {
		return &ConfigError{Kind: c.Kind, Reason: fmt.Sprintf("unsupported frame rate %d", c.FPS)}
	}
	return nil
}

// ValidateSet checks a full stream configuration set: it must be non-empty,
// hold at most one config per kind, every config must be individually valid,
// and the alignment target, when set, must name a configured kind.
func ValidateSet(configs []StreamConfig, alignment Kind) error {
	if len(configs) == 0 {
		return &ConfigError{Reason: "at least one stream must be configured"}
	}
	seen := map[Kind]bool{}
	for _, c := range configs {
		if err := c.Validate(); err != nil {
			return err
		}
		if seen[c.Kind] {
			return &ConfigError{Kind: c.Kind, Reason: "stream type configured twice"}
		}
		seen[c.Kind] = true
	}
	if alignment != "" {
		if !alignment.Valid() {
			return &ConfigError{Kind: alignment, Reason: fmt.Sprintf("unknown alignment target %q", string(alignment))}
		}
		if !seen[alignment] {
			return &ConfigError{Kind: alignment, Reason: "alignment target is not a configured stream"}
		}
	}
	return nil
}

// SortSlots orders a config set into canonical slot order.
func SortSlots(configs []StreamConfig) []StreamConfig {
	out := make([]StreamConfig, len(configs))
	copy(out, configs)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && slotIndex(out[j].Kind) < slotIndex(out[j-1].Kind); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
