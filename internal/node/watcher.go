package node

import (
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/argos-vision/argos/internal/config"
)

// Watcher follows the camera config directory. A config file appearing
// for a serial without a runtime launches that camera; edits to a live
// camera's file are only logged, since the config API is the path that
// applies changes atomically.
type Watcher struct {
	manager *Manager
	layout  config.Layout
	logger  *slog.Logger
	watcher *fsnotify.Watcher
}

// StartWatcher begins watching the camera config directory.
func StartWatcher(manager *Manager, layout config.Layout) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		manager: manager,
		layout:  layout,
		logger:  slog.Default().With("component", "config-watcher"),
		watcher: fsw,
	}

	go w.run()

	if err := fsw.Add(layout.CamerasDir()); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	w.logger.Info("watching camera configs", "dir", layout.CamerasDir())
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			serial := serialFromPath(event.Name)
			if serial == "" {
				continue
			}
			switch {
			case event.Op&fsnotify.Create == fsnotify.Create, event.Op&fsnotify.Write == fsnotify.Write:
				time.Sleep(100 * time.Millisecond) // Debounce
				w.handleChange(serial)
			case event.Op&fsnotify.Remove == fsnotify.Remove, event.Op&fsnotify.Rename == fsnotify.Rename:
				w.logger.Warn("camera config removed from disk, runtime unaffected", "serial", serial)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watch error", "error", err)
		}
	}
}

func (w *Watcher) handleChange(serial string) {
	if _, exists := w.manager.Runtime(serial); exists {
		w.logger.Info("camera config changed on disk, use the config API to apply", "serial", serial)
		return
	}
	file, err := config.LoadCameraFile(w.layout.CameraFilePath(serial))
	if err != nil {
		w.logger.Error("new camera config is invalid", "serial", serial, "error", err)
		return
	}
	w.logger.Info("new camera config found, launching", "serial", serial)
	w.manager.Launch(serial, file)
}

// Stop closes the underlying filesystem watcher.
func (w *Watcher) Stop() {
	_ = w.watcher.Close()
}

func serialFromPath(path string) string {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, ".yaml") || name == "groups.yaml" {
		return ""
	}
	return strings.TrimSuffix(name, ".yaml")
}
