package master

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/argos-vision/argos/internal/database"
	"github.com/argos-vision/argos/internal/frame"
)

// sessionKey identifies one recording toggle. At most one session exists
// per key at any time.
type sessionKey struct {
	nodeID int
	serial string
}

// ActiveSession is the API view of a running recording session.
type ActiveSession struct {
	ID       string `json:"id"`
	NodeID   int    `json:"node_id"`
	CameraSN string `json:"camera_sn"`
	Dataset  string `json:"dataset"`
	Written  int64  `json:"frames_written"`
	Dropped  int64  `json:"frames_dropped"`
}

type recSession struct {
	id      string
	key     sessionKey
	dataset string
	queue   *PayloadQueue
	done    chan struct{}

	mu      sync.Mutex
	written int64
}

func (s *recSession) addWritten(n int64) {
	s.mu.Lock()
	s.written += n
	s.mu.Unlock()
}

func (s *recSession) totalWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Recorder owns every recording session on the master. Toggling is
// serialized per key by the recorder lock; each session runs one worker
// goroutine that drains the session queue onto disk.
type Recorder struct {
	datasets  *DatasetRegistry
	repo      *database.RecordingsRepo
	logger    *slog.Logger
	queueSize int

	mu       sync.Mutex
	sessions map[sessionKey]*recSession
}

// NewRecorder creates a recorder writing into the given dataset registry
// and journaling into repo.
func NewRecorder(datasets *DatasetRegistry, repo *database.RecordingsRepo, queueSize int, logger *slog.Logger) *Recorder {
	return &Recorder{
		datasets:  datasets,
		repo:      repo,
		logger:    logger.With("component", "recorder"),
		queueSize: queueSize,
		sessions:  make(map[sessionKey]*recSession),
	}
}

// Toggle starts a session for (node, camera) into dataset, or stops the
// existing one. It returns true when a session was started. Starting
// increments the dataset's active-writer count; the matching decrement
// happens exactly once, when the worker exits.
func (r *Recorder) Toggle(nodeID int, serial, dataset string) (bool, error) {
	key := sessionKey{nodeID: nodeID, serial: serial}

	r.mu.Lock()
	if s, ok := r.sessions[key]; ok {
		delete(r.sessions, key)
		r.mu.Unlock()
		s.queue.Close()
		<-s.done
		return false, nil
	}

	if err := r.datasets.AcquireWriter(dataset); err != nil {
		r.mu.Unlock()
		return false, err
	}

	id, err := r.repo.Start(context.Background(), nodeID, serial, dataset)
	if err != nil {
		r.datasets.ReleaseWriter(dataset)
		r.mu.Unlock()
		return false, err
	}

	s := &recSession{
		id:      id,
		key:     key,
		dataset: dataset,
		queue:   NewPayloadQueue(r.queueSize),
		done:    make(chan struct{}),
	}
	r.sessions[key] = s
	r.mu.Unlock()

	go r.worker(s)

	r.logger.Info("Recording started",
		"session", id, "node", nodeID, "camera", serial, "dataset", dataset)
	return true, nil
}

// Enqueue hands an inbound frame payload to the session recording (node,
// camera), if one exists. Never blocks.
func (r *Recorder) Enqueue(nodeID int, serial string, payload []byte) {
	r.mu.Lock()
	s, ok := r.sessions[sessionKey{nodeID: nodeID, serial: serial}]
	r.mu.Unlock()
	if ok {
		s.queue.Push(payload)
	}
}

// Recording reports whether a session exists for (node, camera).
func (r *Recorder) Recording(nodeID int, serial string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[sessionKey{nodeID: nodeID, serial: serial}]
	return ok
}

// Active lists the running sessions.
func (r *Recorder) Active() []ActiveSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ActiveSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, ActiveSession{
			ID:       s.id,
			NodeID:   s.key.nodeID,
			CameraSN: s.key.serial,
			Dataset:  s.dataset,
			Written:  s.totalWritten(),
			Dropped:  int64(s.queue.Dropped()),
		})
	}
	return out
}

// StopAllForNode stops every session bound to a node. Called when the
// node's event session disconnects.
func (r *Recorder) StopAllForNode(nodeID int) {
	r.mu.Lock()
	var stopping []*recSession
	for key, s := range r.sessions {
		if key.nodeID == nodeID {
			stopping = append(stopping, s)
			delete(r.sessions, key)
		}
	}
	r.mu.Unlock()

	for _, s := range stopping {
		s.queue.Close()
		<-s.done
	}
}

// StopAll stops every session. Called on master shutdown.
func (r *Recorder) StopAll() {
	r.mu.Lock()
	var stopping []*recSession
	for key, s := range r.sessions {
		stopping = append(stopping, s)
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	for _, s := range stopping {
		s.queue.Close()
		<-s.done
	}
}

// worker drains one session queue onto disk. It exits when the queue is
// closed and drained, then releases the dataset writer and finalizes the
// journal row.
func (r *Recorder) worker(s *recSession) {
	defer close(s.done)

	rawDir := r.datasets.RawDir(s.dataset)

	for {
		payload, ok := s.queue.Pop()
		if !ok {
			break
		}

		tuple, err := frame.DecodeTuple(payload)
		if err != nil {
			r.logger.Warn("Discarding undecodable frame payload",
				"session", s.id, "error", err)
			continue
		}

		persisted := false
		for _, slot := range tuple.Slots {
			if slot.Kind != frame.KindColor && slot.Kind != frame.KindDepth {
				continue
			}
			name := frame.StoredName(s.key.nodeID, s.key.serial, tuple.Timestamp, slot.Kind)
			if err := writeSlotFile(filepath.Join(rawDir, name), slot); err != nil {
				r.logger.Error("Failed to write frame file",
					"session", s.id, "file", name, "error", err)
				continue
			}
			persisted = true
		}
		if persisted {
			s.addWritten(1)
		}
	}

	written := s.totalWritten()
	dropped := int64(s.queue.Dropped())

	r.datasets.ReleaseWriter(s.dataset)
	if err := r.repo.Finish(context.Background(), s.id, written, dropped); err != nil {
		r.logger.Error("Failed to finalize recording journal",
			"session", s.id, "error", err)
	}

	r.logger.Info("Recording stopped",
		"session", s.id, "node", s.key.nodeID, "camera", s.key.serial,
		"dataset", s.dataset, "written", written, "dropped", dropped)
}

func writeSlotFile(path string, slot frame.Slot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := frame.WriteSlot(f, slot); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}
