package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/argos-vision/argos/internal/frame"
)

// CameraFile is the per-serial camera configuration stored as
// cameras/<serial>.yaml. Alignment is nil when slot alignment is off.
type CameraFile struct {
	StreamConfigs []frame.StreamConfig `yaml:"stream_configs" json:"stream_configs"`
	Alignment     *frame.Kind          `yaml:"alignment" json:"alignment"`
}

// AlignmentKind returns the alignment target, "" when disabled.
func (f *CameraFile) AlignmentKind() frame.Kind {
	if f.Alignment == nil {
		return ""
	}
	return *f.Alignment
}

// Validate checks the stream set and alignment target against the closed
// configuration sets.
func (f *CameraFile) Validate() error {
	return frame.ValidateSet(f.StreamConfigs, f.AlignmentKind())
}

// LoadCameraFile reads and validates one camera config.
func LoadCameraFile(path string) (*CameraFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read camera config: %w", err)
	}
	var f CameraFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse camera config %s: %w", filepath.Base(path), err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// SaveCameraFile writes one camera config, creating the directory when
// missing.
func SaveCameraFile(path string, f *CameraFile) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create camera config dir: %w", err)
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal camera config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write camera config: %w", err)
	}
	return nil
}

// ListCameraSerials returns the serials that have a config file, sorted.
// A missing directory is an empty fleet, not an error.
func ListCameraSerials(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list camera configs: %w", err)
	}
	var serials []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		// groups.yaml shares the directory but is not a camera.
		if name == "groups.yaml" {
			continue
		}
		serials = append(serials, strings.TrimSuffix(name, ".yaml"))
	}
	sort.Strings(serials)
	return serials, nil
}
