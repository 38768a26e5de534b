package master

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/argos-vision/argos/internal/api"
	"github.com/argos-vision/argos/internal/config"
)

// DatasetInfo is the API view of one dataset.
type DatasetInfo struct {
	Name          string `json:"name"`
	ActiveWriters int    `json:"active_writers"`
	RawFrames     int    `json:"raw_frames"`
}

// DatasetRegistry tracks the datasets under <base>/datasets and the number
// of recording sessions currently writing into each. Physical deletion and
// renaming are refused while writers are active.
type DatasetRegistry struct {
	layout config.Layout
	logger *slog.Logger

	mu      sync.Mutex
	writers map[string]int
}

// NewDatasetRegistry scans the datasets directory, completes the expected
// substructure of every valid dataset, and warns about entries whose names
// would be rejected by the API.
func NewDatasetRegistry(layout config.Layout, logger *slog.Logger) (*DatasetRegistry, error) {
	dr := &DatasetRegistry{
		layout:  layout,
		logger:  logger.With("component", "datasets"),
		writers: make(map[string]int),
	}

	entries, err := os.ReadDir(layout.DatasetsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return dr, nil
		}
		return nil, fmt.Errorf("failed to scan datasets: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if err := api.ValidateDatasetName(name); err != nil {
			dr.logger.Warn("Ignoring dataset with invalid name", "name", name, "error", err)
			continue
		}
		if err := dr.ensureStructure(name); err != nil {
			return nil, err
		}
		dr.writers[name] = 0
	}

	dr.logger.Info("Datasets scanned", "count", len(dr.writers))
	return dr, nil
}

// List returns every dataset in name order.
func (dr *DatasetRegistry) List() []DatasetInfo {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	names := make([]string, 0, len(dr.writers))
	for name := range dr.writers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]DatasetInfo, 0, len(names))
	for _, name := range names {
		out = append(out, DatasetInfo{
			Name:          name,
			ActiveWriters: dr.writers[name],
			RawFrames:     dr.countRaw(name),
		})
	}
	return out
}

// Exists reports whether a dataset is registered.
func (dr *DatasetRegistry) Exists(name string) bool {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	_, ok := dr.writers[name]
	return ok
}

// Create registers a new dataset and builds its directory structure.
func (dr *DatasetRegistry) Create(name string) error {
	if err := api.ValidateDatasetName(name); err != nil {
		return &IntegrityError{Reason: err.Error()}
	}

	dr.mu.Lock()
	defer dr.mu.Unlock()

	if _, ok := dr.writers[name]; ok {
		return &IntegrityError{Reason: fmt.Sprintf("dataset %q already exists", name)}
	}
	if err := dr.ensureStructure(name); err != nil {
		return err
	}
	dr.writers[name] = 0
	dr.logger.Info("Dataset created", "name", name)
	return nil
}

// Rename moves a dataset to a new name. The old entry is removed first and
// restored if adding the new one fails, so a failed rename leaves the
// original dataset intact.
func (dr *DatasetRegistry) Rename(oldName, newName string) error {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	count, ok := dr.writers[oldName]
	if !ok {
		return fmt.Errorf("dataset %q not found", oldName)
	}
	if count > 0 {
		return &IntegrityError{Reason: fmt.Sprintf("dataset %q has %d active recording(s)", oldName, count)}
	}

	delete(dr.writers, oldName)

	restore := func() { dr.writers[oldName] = 0 }
	if err := api.ValidateDatasetName(newName); err != nil {
		restore()
		return &IntegrityError{Reason: err.Error()}
	}
	if _, exists := dr.writers[newName]; exists {
		restore()
		return &IntegrityError{Reason: fmt.Sprintf("dataset %q already exists", newName)}
	}
	if err := os.Rename(dr.layout.DatasetDir(oldName), dr.layout.DatasetDir(newName)); err != nil {
		restore()
		return fmt.Errorf("failed to rename dataset: %w", err)
	}

	dr.writers[newName] = 0
	dr.logger.Info("Dataset renamed", "from", oldName, "to", newName)
	return nil
}

// Delete removes a dataset and its files. Refused while any recording
// session still writes into it.
func (dr *DatasetRegistry) Delete(name string) error {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	count, ok := dr.writers[name]
	if !ok {
		return fmt.Errorf("dataset %q not found", name)
	}
	if count > 0 {
		return &IntegrityError{Reason: fmt.Sprintf("dataset %q has %d active recording(s)", name, count)}
	}

	if err := os.RemoveAll(dr.layout.DatasetDir(name)); err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	delete(dr.writers, name)
	dr.logger.Info("Dataset deleted", "name", name)
	return nil
}

// AcquireWriter increments a dataset's active-writer count. The dataset
// must already exist; recording never creates datasets implicitly.
func (dr *DatasetRegistry) AcquireWriter(name string) error {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	if _, ok := dr.writers[name]; !ok {
		return &IntegrityError{Reason: fmt.Sprintf("dataset %q does not exist", name)}
	}
	dr.writers[name]++
	return nil
}

// ReleaseWriter decrements a dataset's active-writer count.
func (dr *DatasetRegistry) ReleaseWriter(name string) {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	if count, ok := dr.writers[name]; ok && count > 0 {
		dr.writers[name] = count - 1
	}
}

// ActiveWriters returns the current writer count for a dataset.
func (dr *DatasetRegistry) ActiveWriters(name string) int {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	return dr.writers[name]
}

// RawDir returns the directory recorded frames are written into.
func (dr *DatasetRegistry) RawDir(name string) string {
	return filepath.Join(dr.layout.DatasetDir(name), "raw")
}

func (dr *DatasetRegistry) ensureStructure(name string) error {
	dirs := []string{
		filepath.Join(dr.layout.DatasetDir(name), "raw"),
		filepath.Join(dr.layout.DatasetDir(name), "processed", "train"),
		filepath.Join(dr.layout.DatasetDir(name), "processed", "val"),
		filepath.Join(dr.layout.DatasetDir(name), "processed", "test"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

func (dr *DatasetRegistry) countRaw(name string) int {
	entries, err := os.ReadDir(dr.RawDir(name))
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".npy") {
			count++
		}
	}
	return count
}
