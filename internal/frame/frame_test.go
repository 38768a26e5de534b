package frame

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestStreamConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  StreamConfig
		wantErr string
	}{
		{
			name:   "valid color",
			config: StreamConfig{Kind: KindColor, Format: FormatRGB8, Resolution: Resolution{848, 480}, FPS: 30},
		},
		{
			name:   "valid depth",
			config: StreamConfig{Kind: KindDepth, Format: FormatZ16, Resolution: Resolution{640, 480}, FPS: 15},
		},
		{
			name:    "unknown kind",
			config:  StreamConfig{Kind: "thermal", Format: FormatY8, Resolution: Resolution{640, 480}, FPS: 30},
			wantErr: "unknown stream type",
		},
		{
			name:    "format not valid for kind",
			config:  StreamConfig{Kind: KindDepth, Format: FormatRGB8, Resolution: Resolution{640, 480}, FPS: 30},
			wantErr: "not valid for depth",
		},
		{
			name:    "resolution outside closed set",
			config:  StreamConfig{Kind: KindColor, Format: FormatRGB8, Resolution: Resolution{800, 600}, FPS: 30},
			wantErr: "unsupported resolution",
		},
		{
			name:    "fps outside closed set",
			config:  StreamConfig{Kind: KindColor, Format: FormatRGB8, Resolution: Resolution{848, 480}, FPS: 25},
			wantErr: "unsupported frame rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Errorf("Validate() error type = %T, want *ConfigError", err)
			}
		})
	}
}

func TestValidateSet(t *testing.T) {
	color := StreamConfig{Kind: KindColor, Format: FormatBGR8, Resolution: Resolution{848, 480}, FPS: 30}
	depth := StreamConfig{Kind: KindDepth, Format: FormatZ16, Resolution: Resolution{848, 480}, FPS: 30}

	if err := ValidateSet([]StreamConfig{color, depth}, KindColor); err != nil {
		t.Fatalf("ValidateSet(color+depth, align color) = %v, want nil", err)
	}
	if err := ValidateSet([]StreamConfig{color, depth}, ""); err != nil {
		t.Fatalf("ValidateSet with no alignment = %v, want nil", err)
	}
	if err := ValidateSet(nil, ""); err == nil {
		t.Error("ValidateSet(empty) = nil, want error")
	}
	if err := ValidateSet([]StreamConfig{color, color}, ""); err == nil {
		t.Error("ValidateSet with duplicate kind = nil, want error")
	}
	if err := ValidateSet([]StreamConfig{depth}, KindColor); err == nil {
		t.Error("ValidateSet with unconfigured alignment target = nil, want error")
	}
	if err := ValidateSet([]StreamConfig{depth}, "thermal"); err == nil {
		t.Error("ValidateSet with unknown alignment target = nil, want error")
	}
}

func TestSortSlots(t *testing.T) {
	configs := []StreamConfig{
		{Kind: KindPose, Format: FormatSixDOF, Resolution: Resolution{320, 180}, FPS: 30},
		{Kind: KindDepth, Format: FormatZ16, Resolution: Resolution{848, 480}, FPS: 30},
		{Kind: KindColor, Format: FormatRGB8, Resolution: Resolution{848, 480}, FPS: 30},
	}
	sorted := SortSlots(configs)
	want := []Kind{KindColor, KindDepth, KindPose}
	for i, k := range want {
		if sorted[i].Kind != k {
			t.Errorf("sorted[%d].Kind = %s, want %s", i, sorted[i].Kind, k)
		}
	}
	// Input order untouched.
	if configs[0].Kind != KindPose {
		t.Error("SortSlots mutated its input")
	}
}

func TestResolution_YAMLRoundTrip(t *testing.T) {
	in := StreamConfig{Kind: KindColor, Format: FormatRGB8, Resolution: Resolution{1280, 720}, FPS: 60}
	data, err := yaml.Marshal(in)
	if err != nil {
		t.Fatalf("yaml.Marshal() error: %v", err)
	}
	if !strings.Contains(string(data), "1280x720") {
		t.Errorf("marshaled yaml = %q, want WIDTHxHEIGHT resolution", data)
	}
	var out StreamConfig
	if err := yaml.Unmarshal(data, &out); err != nil {
		t.Fatalf("yaml.Unmarshal() error: %v", err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestResolution_JSON(t *testing.T) {
	data, err := json.Marshal(Resolution{424, 240})
	if err != nil {
		t.Fatalf("json.Marshal() error: %v", err)
	}
	if string(data) != `"424x240"` {
		t.Errorf("json.Marshal() = %s, want \"424x240\"", data)
	}
	var r Resolution
	if err := json.Unmarshal([]byte(`"640x360"`), &r); err != nil {
		t.Fatalf("json.Unmarshal() error: %v", err)
	}
	if (r != Resolution{640, 360}) {
		t.Errorf("json.Unmarshal() = %v, want 640x360", r)
	}
}

func TestTuple_EncodeDecode(t *testing.T) {
	in := &Tuple{
		CameraSN:  "833612074926",
		Timestamp: 1724500000.123456,
		Slots: []Slot{
			{Kind: KindColor, DType: DTypeUint8, Shape: []int{2, 2, 3}, Data: make([]byte, 12)},
			{Kind: KindDepth, DType: DTypeUint16LE, Shape: []int{2, 2}, Data: []byte{1, 0, 2, 0, 3, 0, 4, 0}},
		},
	}
	data, err := in.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	out, err := DecodeTuple(data)
	if err != nil {
		t.Fatalf("DecodeTuple() error: %v", err)
	}
	if out.CameraSN != in.CameraSN {
		t.Errorf("CameraSN = %q, want %q", out.CameraSN, in.CameraSN)
	}
	if out.Timestamp != in.Timestamp {
		t.Errorf("Timestamp = %v, want %v", out.Timestamp, in.Timestamp)
	}
	depth, ok := out.Slot(KindDepth)
	if !ok {
		t.Fatal("decoded tuple is missing depth slot")
	}
	if depth.Elements() != 4 {
		t.Errorf("depth.Elements() = %d, want 4", depth.Elements())
	}
	if _, ok := out.Slot(KindPose); ok {
		t.Error("Slot(pose) = true for tuple without pose")
	}
}

func TestDecodeTuple_Garbage(t *testing.T) {
	if _, err := DecodeTuple([]byte{0xff, 0x00, 0x13}); err == nil {
		t.Error("DecodeTuple(garbage) = nil, want error")
	}
}

func TestStoredName(t *testing.T) {
	name := StoredName(3, "833612074926", 1724500000.5, KindDepth)
	want := "3_833612074926_1724500000_500000_depth.npy"
	if name != want {
		t.Errorf("StoredName() = %q, want %q", name, want)
	}
	if strings.Count(name, ".") != 1 {
		t.Errorf("StoredName() = %q, want a single dot (the extension)", name)
	}
}

func TestTimestampToken_Precision(t *testing.T) {
	tok := TimestampToken(1700000000.000001)
	if tok != "1700000000_000001" {
		t.Errorf("TimestampToken() = %q, want microsecond precision preserved", tok)
	}
}
