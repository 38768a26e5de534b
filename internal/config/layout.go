package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout maps the base directory to every file and directory the services
// persist state in. All paths are derived, never stored.
type Layout struct {
	Base string
}

// NewLayout resolves the base directory from the environment.
func NewLayout() Layout {
	return Layout{Base: ResolveBaseDir()}
}

// CamerasDir holds one <serial>.yaml per configured camera on a node.
func (l Layout) CamerasDir() string { return filepath.Join(l.Base, "cameras") }

// CameraFilePath is the config file for one serial.
func (l Layout) CameraFilePath(serial string) string {
	return filepath.Join(l.CamerasDir(), serial+".yaml")
}

// GroupsFilePath is the node's camera-group map.
func (l Layout) GroupsFilePath() string { return filepath.Join(l.CamerasDir(), "groups.yaml") }

// NodesDir holds the master's roster file and node photos.
func (l Layout) NodesDir() string { return filepath.Join(l.Base, "nodes") }

// NodesFilePath is the master's persisted node roster.
func (l Layout) NodesFilePath() string { return filepath.Join(l.NodesDir(), "nodes.yaml") }

// NodeImagesDir holds one reference photo per registered node.
func (l Layout) NodeImagesDir() string { return filepath.Join(l.NodesDir(), "images") }

// NodeImagePath is the stored photo for one node. The file name keeps the
// extension of the uploaded image, so it is stored on the record.
func (l Layout) NodeImagePath(filename string) string {
	return filepath.Join(l.NodeImagesDir(), filename)
}

// DatasetsDir holds one subdirectory per recording dataset.
func (l Layout) DatasetsDir() string { return filepath.Join(l.Base, "datasets") }

// DatasetDir is the directory of one dataset.
func (l Layout) DatasetDir(name string) string { return filepath.Join(l.DatasetsDir(), name) }

// HistoryDBPath is the master's recording-history database.
func (l Layout) HistoryDBPath() string { return filepath.Join(l.Base, "history.db") }

// MasterFilePath is the master's own settings file.
func (l Layout) MasterFilePath() string { return filepath.Join(l.Base, "master.yaml") }

// Ensure creates the directory tree. Missing directories are normal on
// first start.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.Base, l.CamerasDir(), l.NodesDir(), l.NodeImagesDir(), l.DatasetsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
