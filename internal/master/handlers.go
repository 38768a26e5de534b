package master

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/argos-vision/argos/internal/api"
)

const (
	defaultLogLimit = 200
	maxLogLimit     = 1000

	// maxImageUpload bounds a node photo upload.
	maxImageUpload = 16 << 20
)

// nodeView is the API shape of a roster entry plus its live session state.
type nodeView struct {
	NodeRecord
	Connected bool     `json:"connected"`
	Cameras   []string `json:"cameras"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	connected := 0
	for _, rec := range s.registry.List() {
		if sess, ok := s.session(rec.ID); ok && sess.Connected() {
			connected++
		}
	}

	dbStatus := "ok"
	if err := s.db.Health(r.Context()); err != nil {
		dbStatus = err.Error()
	}

	api.OK(w, map[string]interface{}{
		"status":          "ok",
		"service":         "argos-master",
		"events_url":      s.bus.ClientURL(),
		"events_online":   s.bus.Connected(),
		"nodes":           len(s.registry.List()),
		"nodes_connected": connected,
		"database":        dbStatus,
		"recordings":      len(s.recorder.Active()),
		"uptime_seconds":  int(time.Since(s.started).Seconds()),
	})
}

// handleLogs serves a window of the in-memory log, addressed by absolute
// line number.
func (s *Service) handleLogs(w http.ResponseWriter, r *http.Request) {
	var start uint64
	if raw := r.URL.Query().Get("start_line"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			api.BadRequest(w, "start_line must be a non-negative integer")
			return
		}
		start = parsed
	}
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("nb_lines"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			api.BadRequest(w, "nb_lines must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	lines, next := s.ring.Window(start, limit)
	api.OK(w, map[string]interface{}{
		"lines": lines,
		"next":  next,
		"total": s.ring.Lines(),
	})
}

func (s *Service) nodeID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		return 0, fmt.Errorf("node id must be a positive integer")
	}
	return id, nil
}

func (s *Service) handleListNodes(w http.ResponseWriter, r *http.Request) {
	records := s.registry.List()
	views := make([]nodeView, 0, len(records))
	for _, rec := range records {
		view := nodeView{NodeRecord: rec, Cameras: []string{}}
		if sess, ok := s.session(rec.ID); ok {
			view.Connected = sess.Connected()
			view.Cameras = sess.Serials()
		}
		views = append(views, view)
	}
	api.OK(w, map[string]interface{}{"nodes": views})
}

// nodeForm extracts name, address, and the optional photo from a
// multipart registration request.
func nodeForm(r *http.Request) (name, address string, image []byte, ext string, err error) {
	if err := r.ParseMultipartForm(maxImageUpload); err != nil {
		return "", "", nil, "", fmt.Errorf("request must be multipart form data")
	}
	name = strings.TrimSpace(r.FormValue("name"))
	address = strings.TrimSpace(r.FormValue("address"))

	file, header, ferr := r.FormFile("image")
	if ferr != nil {
		if errors.Is(ferr, http.ErrMissingFile) {
			return name, address, nil, "", nil
		}
		return "", "", nil, "", fmt.Errorf("failed to read image upload")
	}
	defer file.Close()

	image, err = io.ReadAll(io.LimitReader(file, maxImageUpload))
	if err != nil {
		return "", "", nil, "", fmt.Errorf("failed to read image upload")
	}
	return name, address, image, filepath.Ext(header.Filename), nil
}

func (s *Service) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	name, address, image, ext, err := nodeForm(r)
	if err != nil {
		api.BadRequest(w, err.Error())
		return
	}

	if verrs := api.NewNodeValidator().Validate(name, address); verrs.HasErrors() {
		api.ValidationErrorResponse(w, verrs)
		return
	}

	rec, err := s.registry.Add(name, address, image, ext)
	if err != nil {
		var integrity *IntegrityError
		if errors.As(err, &integrity) {
			api.BadRequest(w, integrity.Reason)
			return
		}
		s.logger.Error("Node registration failed", "error", err)
		api.InternalError(w, "failed to register node")
		return
	}

	s.startSession(rec)
	api.Created(w, rec)
}

func (s *Service) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	id, err := s.nodeID(r)
	if err != nil {
		api.BadRequest(w, err.Error())
		return
	}
	if _, ok := s.registry.Get(id); !ok {
		api.NotFound(w, fmt.Sprintf("node %d is not registered", id))
		return
	}

	var (
		name, address string
		image         []byte
		ext           string
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		name, address, image, ext, err = nodeForm(r)
		if err != nil {
			api.BadRequest(w, err.Error())
			return
		}
	} else {
		var body struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		}
		if err := api.DecodeJSON(r, &body); err != nil {
			api.BadRequest(w, err.Error())
			return
		}
		name, address = strings.TrimSpace(body.Name), strings.TrimSpace(body.Address)
	}

	if verrs := api.NewNodeValidator().Validate(name, address); verrs.HasErrors() {
		api.ValidationErrorResponse(w, verrs)
		return
	}

	rec, err := s.registry.Update(id, name, address, image, ext)
	if err != nil {
		var integrity *IntegrityError
		if errors.As(err, &integrity) {
			api.BadRequest(w, integrity.Reason)
			return
		}
		s.logger.Error("Node update failed", "node", id, "error", err)
		api.InternalError(w, "failed to update node")
		return
	}

	// The session dials by address, so rebind it to the fresh record.
	s.stopSession(id)
	s.startSession(rec)
	api.OK(w, rec)
}

func (s *Service) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	id, err := s.nodeID(r)
	if err != nil {
		api.BadRequest(w, err.Error())
		return
	}
	if _, ok := s.registry.Get(id); !ok {
		api.NotFound(w, fmt.Sprintf("node %d is not registered", id))
		return
	}

	s.stopSession(id)

	rec, err := s.registry.Remove(id)
	if err != nil {
		s.logger.Error("Node removal failed", "node", id, "error", err)
		api.InternalError(w, "failed to remove node")
		return
	}
	api.OK(w, map[string]interface{}{"deleted": rec})
}

func (s *Service) handleNodeImage(w http.ResponseWriter, r *http.Request) {
	id, err := s.nodeID(r)
	if err != nil {
		api.BadRequest(w, err.Error())
		return
	}
	path, ok := s.registry.ImagePath(id)
	if !ok {
		api.NotFound(w, fmt.Sprintf("node %d has no image", id))
		return
	}
	http.ServeFile(w, r, path)
}

// handleEmitCameraLists re-announces every node's camera list on the
// analytics namespace. Bridges call this right after connecting so they
// can reconcile from a clean slate.
func (s *Service) handleEmitCameraLists(w http.ResponseWriter, r *http.Request) {
	records := s.registry.List()
	for _, rec := range records {
		var serials []string
		if sess, ok := s.session(rec.ID); ok {
			serials = sess.Serials()
		}
		s.dispatcher.EmitCameraList(rec, serials)
	}
	api.OK(w, map[string]interface{}{"nodes": len(records)})
}

func (s *Service) handleRecordToggle(w http.ResponseWriter, r *http.Request) {
	id, err := s.nodeID(r)
	if err != nil {
		api.BadRequest(w, err.Error())
		return
	}
	serial := chi.URLParam(r, "serial")
	if err := api.ValidateSerial(serial); err != nil {
		api.BadRequest(w, err.Error())
		return
	}
	if _, ok := s.registry.Get(id); !ok {
		api.NotFound(w, fmt.Sprintf("node %d is not registered", id))
		return
	}

	var body struct {
		Dataset string `json:"dataset"`
	}
	if err := api.DecodeJSON(r, &body); err != nil {
		api.BadRequest(w, err.Error())
		return
	}
	if body.Dataset == "" {
		api.BadRequest(w, "dataset is required")
		return
	}

	started, err := s.recorder.Toggle(id, serial, body.Dataset)
	if err != nil {
		var integrity *IntegrityError
		if errors.As(err, &integrity) {
			api.BadRequest(w, integrity.Reason)
			return
		}
		s.logger.Error("Recording toggle failed", "node", id, "camera", serial, "error", err)
		api.InternalError(w, "failed to toggle recording")
		return
	}

	api.OK(w, map[string]interface{}{
		"recording": started,
		"node_id":   id,
		"camera_sn": serial,
		"dataset":   body.Dataset,
	})
}

func (s *Service) handleNodeProxy(w http.ResponseWriter, r *http.Request) {
	id, err := s.nodeID(r)
	if err != nil {
		api.BadRequest(w, err.Error())
		return
	}
	rec, ok := s.registry.Get(id)
	if !ok {
		api.NotFound(w, fmt.Sprintf("node %d is not registered", id))
		return
	}
	s.proxy.Forward(w, r, rec.Address, chi.URLParam(r, "*"))
}

func (s *Service) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	api.OK(w, map[string]interface{}{"datasets": s.datasets.List()})
}

func (s *Service) handleCreateDataset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := api.DecodeJSON(r, &body); err != nil {
		api.BadRequest(w, err.Error())
		return
	}

	if err := s.datasets.Create(body.Name); err != nil {
		var integrity *IntegrityError
		if errors.As(err, &integrity) {
			api.BadRequest(w, integrity.Reason)
			return
		}
		s.logger.Error("Dataset creation failed", "name", body.Name, "error", err)
		api.InternalError(w, "failed to create dataset")
		return
	}
	api.Created(w, map[string]interface{}{"name": body.Name})
}

func (s *Service) handleRenameDataset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.datasets.Exists(name) {
		api.NotFound(w, fmt.Sprintf("dataset %q not found", name))
		return
	}

	var body struct {
		Name string `json:"name"`
	}
	if err := api.DecodeJSON(r, &body); err != nil {
		api.BadRequest(w, err.Error())
		return
	}

	if err := s.datasets.Rename(name, body.Name); err != nil {
		var integrity *IntegrityError
		if errors.As(err, &integrity) {
			api.BadRequest(w, integrity.Reason)
			return
		}
		s.logger.Error("Dataset rename failed", "from", name, "to", body.Name, "error", err)
		api.InternalError(w, "failed to rename dataset")
		return
	}
	api.OK(w, map[string]interface{}{"name": body.Name})
}

func (s *Service) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.datasets.Exists(name) {
		api.NotFound(w, fmt.Sprintf("dataset %q not found", name))
		return
	}

	if err := s.datasets.Delete(name); err != nil {
		var integrity *IntegrityError
		if errors.As(err, &integrity) {
			api.BadRequest(w, integrity.Reason)
			return
		}
		s.logger.Error("Dataset deletion failed", "name", name, "error", err)
		api.InternalError(w, "failed to delete dataset")
		return
	}
	api.OK(w, map[string]interface{}{"deleted": name})
}

func (s *Service) handleListDatasetImages(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.datasets.Exists(name) {
		api.NotFound(w, fmt.Sprintf("dataset %q not found", name))
		return
	}

	files, err := ListRawImages(s.datasets.RawDir(name))
	if err != nil {
		s.logger.Error("Failed to list dataset images", "dataset", name, "error", err)
		api.InternalError(w, "failed to list images")
		return
	}
	api.OK(w, map[string]interface{}{"images": files})
}

func (s *Service) handleDatasetImage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.datasets.Exists(name) {
		api.NotFound(w, fmt.Sprintf("dataset %q not found", name))
		return
	}
	file := chi.URLParam(r, "file")

	contentType, data, err := RenderRawImage(s.datasets.RawDir(name), file)
	if err != nil {
		if os.IsNotExist(err) {
			api.NotFound(w, fmt.Sprintf("image %q not found", file))
			return
		}
		api.BadRequest(w, err.Error())
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (s *Service) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			api.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	rows, err := s.repo.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list recordings", "error", err)
		api.InternalError(w, "failed to list recordings")
		return
	}

	api.OK(w, map[string]interface{}{
		"recordings": rows,
		"active":     s.recorder.Active(),
	})
}
