package api

import (
	"strings"
	"testing"

	"github.com/argos-vision/argos/internal/frame"
)

func TestValidateSerial(t *testing.T) {
	if err := ValidateSerial("833612074926"); err != nil {
		t.Errorf("ValidateSerial(numeric) = %v, want nil", err)
	}
	if err := ValidateSerial("AB12cd"); err != nil {
		t.Errorf("ValidateSerial(alnum) = %v, want nil", err)
	}
	for _, bad := range []string{"", "has space", "dot.dot", "../etc", strings.Repeat("9", 33)} {
		if err := ValidateSerial(bad); err == nil {
			t.Errorf("ValidateSerial(%q) = nil, want error", bad)
		}
	}
}

func TestValidateDatasetName(t *testing.T) {
	for _, ok := range []string{"checkout-trials", "week_34", "A1"} {
		if err := ValidateDatasetName(ok); err != nil {
			t.Errorf("ValidateDatasetName(%q) = %v, want nil", ok, err)
		}
	}
	for _, bad := range []string{"", "..", "a/b", "a.b", strings.Repeat("x", 65)} {
		if err := ValidateDatasetName(bad); err == nil {
			t.Errorf("ValidateDatasetName(%q) = nil, want error", bad)
		}
	}
}

func TestNodeValidator(t *testing.T) {
	v := NewNodeValidator()
	if errs := v.Validate("till-row", "192.168.1.50:7702"); errs.HasErrors() {
		t.Errorf("Validate(valid node) = %v, want none", errs)
	}

	errs := v.Validate("", "not-an-address")
	if len(errs) != 2 {
		t.Fatalf("Validate(bad node) = %d errors, want 2", len(errs))
	}
	if errs[0].Field != "name" || errs[1].Field != "address" {
		t.Errorf("error fields = %s, %s; want name, address", errs[0].Field, errs[1].Field)
	}

	if errs := v.Validate("x", "127.0.0.1:7702"); !errs.HasErrors() {
		t.Error("Validate(one-char name) = no errors, want length error")
	}

	for _, bad := range []string{"3rd-till", "till row", "till.row", "-till"} {
		if errs := v.Validate(bad, "127.0.0.1:7702"); !errs.HasErrors() {
			t.Errorf("Validate(%q) = no errors, want name pattern error", bad)
		}
	}
}

func TestFromConfigError(t *testing.T) {
	errs := FromConfigError(&frame.ConfigError{Kind: frame.KindDepth, Reason: "unsupported frame rate 25"})
	if len(errs) != 1 {
		t.Fatalf("FromConfigError() = %d errors, want 1", len(errs))
	}
	if errs[0].Field != "stream_configs.depth" {
		t.Errorf("Field = %q, want stream_configs.depth", errs[0].Field)
	}
	if !strings.Contains(errs[0].Message, "frame rate") {
		t.Errorf("Message = %q", errs[0].Message)
	}
}
