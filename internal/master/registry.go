package master

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/argos-vision/argos/internal/config"
)

// NodeRecord is one row of the master's roster. Image holds the stored
// file name of the node's reference photo, empty when none was uploaded.
type NodeRecord struct {
	ID      int    `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	Address string `yaml:"address" json:"address"`
	Image   string `yaml:"image,omitempty" json:"image,omitempty"`
}

// IntegrityError reports a roster mutation that would violate uniqueness.
// Handlers surface it as a 400 with the reason verbatim.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string { return e.Reason }

// Registry is the persistent node roster. The YAML file is rewritten whole
// on every mutation; the in-memory list is the single source of truth
// between writes.
type Registry struct {
	layout config.Layout
	logger *slog.Logger

	mu    sync.RWMutex
	nodes []NodeRecord
}

// LoadRegistry reads nodes.yaml, validates it, and returns the roster.
// A missing file is an empty roster, not an error.
func LoadRegistry(layout config.Layout, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		layout: layout,
		logger: logger.With("component", "registry"),
	}

	data, err := os.ReadFile(layout.NodesFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("failed to read node roster: %w", err)
	}

	var nodes []NodeRecord
	if err := yaml.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("failed to parse node roster: %w", err)
	}

	seen := make(map[string]bool)
	for _, n := range nodes {
		for _, key := range []string{
			fmt.Sprintf("id:%d", n.ID),
			"name:" + n.Name,
			"address:" + n.Address,
		} {
			if seen[key] {
				return nil, fmt.Errorf("node roster is not unique on %s", key)
			}
			seen[key] = true
		}
		if n.ID < 1 {
			return nil, fmt.Errorf("node %q has invalid id %d", n.Name, n.ID)
		}
	}

	r.nodes = nodes
	r.logger.Info("Node roster loaded", "nodes", len(nodes))
	return r, nil
}

// List returns a copy of the roster in file order.
func (r *Registry) List() []NodeRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeRecord, len(r.nodes))
	copy(out, r.nodes)
	return out
}

// Get returns the record for an id.
func (r *Registry) Get(id int) (NodeRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeRecord{}, false
}

// Add registers a node. The id is one above the current maximum. A photo
// is optional; its extension is kept from the uploaded file name.
func (r *Registry) Add(name, address string, image []byte, imageExt string) (NodeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkUnique(name, address, 0); err != nil {
		return NodeRecord{}, err
	}

	id := 1
	for _, n := range r.nodes {
		if n.ID >= id {
			id = n.ID + 1
		}
	}

	rec := NodeRecord{ID: id, Name: name, Address: address}
	if len(image) > 0 {
		filename, err := r.storeImage(id, image, imageExt)
		if err != nil {
			return NodeRecord{}, err
		}
		rec.Image = filename
	}

	r.nodes = append(r.nodes, rec)
	if err := r.save(); err != nil {
		r.nodes = r.nodes[:len(r.nodes)-1]
		return NodeRecord{}, err
	}

	r.logger.Info("Node registered", "id", id, "name", name, "address", address)
	return rec, nil
}

// Update edits name and address, and replaces the photo when one is given.
func (r *Registry) Update(id int, name, address string, image []byte, imageExt string) (NodeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, n := range r.nodes {
		if n.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return NodeRecord{}, fmt.Errorf("node %d not found", id)
	}

	if err := r.checkUnique(name, address, id); err != nil {
		return NodeRecord{}, err
	}

	prev := r.nodes[idx]
	rec := prev
	rec.Name = name
	rec.Address = address
	if len(image) > 0 {
		filename, err := r.storeImage(id, image, imageExt)
		if err != nil {
			return NodeRecord{}, err
		}
		if prev.Image != "" && prev.Image != filename {
			_ = os.Remove(r.layout.NodeImagePath(prev.Image))
		}
		rec.Image = filename
	}

	r.nodes[idx] = rec
	if err := r.save(); err != nil {
		r.nodes[idx] = prev
		return NodeRecord{}, err
	}

	r.logger.Info("Node updated", "id", id, "name", name, "address", address)
	return rec, nil
}

// Remove deletes a node and its stored photo.
func (r *Registry) Remove(id int) (NodeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, n := range r.nodes {
		if n.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return NodeRecord{}, fmt.Errorf("node %d not found", id)
	}

	rec := r.nodes[idx]
	r.nodes = append(r.nodes[:idx], r.nodes[idx+1:]...)
	if err := r.save(); err != nil {
		r.nodes = append(r.nodes[:idx], append([]NodeRecord{rec}, r.nodes[idx:]...)...)
		return NodeRecord{}, err
	}

	if rec.Image != "" {
		_ = os.Remove(r.layout.NodeImagePath(rec.Image))
	}

	r.logger.Info("Node removed", "id", id, "name", rec.Name)
	return rec, nil
}

// ImagePath returns the on-disk photo path for a node, if it has one.
func (r *Registry) ImagePath(id int) (string, bool) {
	rec, ok := r.Get(id)
	if !ok || rec.Image == "" {
		return "", false
	}
	return r.layout.NodeImagePath(rec.Image), true
}

func (r *Registry) checkUnique(name, address string, selfID int) error {
	for _, n := range r.nodes {
		if n.ID == selfID {
			continue
		}
		if n.Name == name {
			return &IntegrityError{Reason: fmt.Sprintf("a node named %q already exists (id %d)", name, n.ID)}
		}
		if n.Address == address {
			return &IntegrityError{Reason: fmt.Sprintf("address %q is already registered (id %d)", address, n.ID)}
		}
	}
	return nil
}

func (r *Registry) storeImage(id int, image []byte, ext string) (string, error) {
	ext = strings.ToLower(ext)
	switch ext {
	case ".jpg", ".jpeg", ".png":
	case "":
		ext = ".jpg"
	default:
		return "", &IntegrityError{Reason: fmt.Sprintf("unsupported image type %q", ext)}
	}

	filename := fmt.Sprintf("%d%s", id, ext)
	path := r.layout.NodeImagePath(filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create image directory: %w", err)
	}
	if err := os.WriteFile(path, image, 0o644); err != nil {
		return "", fmt.Errorf("failed to store node image: %w", err)
	}
	return filename, nil
}

// save rewrites nodes.yaml from the in-memory list. Callers hold the lock.
func (r *Registry) save() error {
	sort.SliceStable(r.nodes, func(i, j int) bool { return r.nodes[i].ID < r.nodes[j].ID })

	data, err := yaml.Marshal(r.nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal node roster: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.layout.NodesFilePath()), 0o755); err != nil {
		return fmt.Errorf("failed to create roster directory: %w", err)
	}
	if err := os.WriteFile(r.layout.NodesFilePath(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write node roster: %w", err)
	}
	return nil
}
