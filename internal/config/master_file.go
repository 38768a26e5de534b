package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MasterFile is the master's own settings, stored as master.yaml. Missing
// file or missing sections fall back to defaults; an invalid schedule is a
// hard error because silently disabling it would leave cameras running
// overnight.
type MasterFile struct {
	Events    EventsSettings    `yaml:"events"`
	Schedule  ScheduleSettings  `yaml:"schedule"`
	Recording RecordingSettings `yaml:"recording"`
}

// EventsSettings configures the embedded event bus listener.
type EventsSettings struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ScheduleSettings is the daily operation window. Hours are local time on
// a 24h clock; streaming starts at StartHour and stops at StopHour.
type ScheduleSettings struct {
	Enabled   bool `yaml:"enabled"`
	StartHour int  `yaml:"start_hour"`
	StopHour  int  `yaml:"stop_hour"`
}

// Validate checks the window bounds and ordering.
func (s ScheduleSettings) Validate() error {
	if s.StartHour < 0 || s.StartHour > 23 {
		return fmt.Errorf("schedule start_hour %d outside [0, 23]", s.StartHour)
	}
	if s.StopHour < 0 || s.StopHour > 23 {
		return fmt.Errorf("schedule stop_hour %d outside [0, 23]", s.StopHour)
	}
	if s.StartHour >= s.StopHour {
		return fmt.Errorf("schedule start_hour %d must be before stop_hour %d", s.StartHour, s.StopHour)
	}
	return nil
}

// RecordingSettings bounds the per-session frame queues of the dataset
// recorder.
type RecordingSettings struct {
	QueueSize int `yaml:"queue_size"`
}

// DefaultMasterFile returns the settings used when master.yaml is absent.
func DefaultMasterFile() *MasterFile {
	return &MasterFile{
		Events:    EventsSettings{Host: "127.0.0.1", Port: DefaultEventsPort},
		Schedule:  ScheduleSettings{Enabled: false, StartHour: 8, StopHour: 20},
		Recording: RecordingSettings{QueueSize: 256},
	}
}

// LoadMasterFile reads master.yaml, filling absent fields with defaults.
func LoadMasterFile(path string) (*MasterFile, error) {
	cfg := DefaultMasterFile()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read master settings: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse master settings: %w", err)
	}
	if cfg.Events.Host == "" {
		cfg.Events.Host = "127.0.0.1"
	}
	if cfg.Events.Port == 0 {
		cfg.Events.Port = DefaultEventsPort
	}
	if cfg.Recording.QueueSize <= 0 {
		cfg.Recording.QueueSize = 256
	}
	if cfg.Schedule.Enabled {
		if err := cfg.Schedule.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
