package node

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/argos-vision/argos/internal/api"
	"github.com/argos-vision/argos/internal/camera"
	"github.com/argos-vision/argos/internal/config"
)

const (
	defaultLogLimit = 200
	maxLogLimit     = 1000
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.OK(w, map[string]interface{}{
		"status":         "ok",
		"service":        "argos-node",
		"cameras":        len(s.manager.Serials()),
		"event_clients":  s.hub.ClientCount(),
		"uptime_seconds": int(s.Uptime().Seconds()),
	})
}

// handleLogs serves a window of the in-memory log, addressed by absolute
// line number so the master can poll incrementally.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
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

func (s *Server) handleListCameras(w http.ResponseWriter, r *http.Request) {
	api.OK(w, map[string]interface{}{
		"cameras": s.manager.Serials(),
	})
}

func (s *Server) handleGetCameraConfig(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	rt, ok := s.manager.Runtime(serial)
	if !ok {
		api.NotFound(w, "camera "+serial+" is not configured on this node")
		return
	}
	file := config.CameraFile{StreamConfigs: rt.Configs()}
	if align := rt.Alignment(); align != "" {
		file.Alignment = &align
	}
	api.OK(w, file)
}

// handlePutCameraConfig replaces a camera's stream configuration. The new
// config is validated before the running camera is touched; an invalid
// body leaves the camera exactly as it was.
func (s *Server) handlePutCameraConfig(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	if _, ok := s.manager.Runtime(serial); !ok {
		api.NotFound(w, "camera "+serial+" is not configured on this node")
		return
	}

	var file config.CameraFile
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		if err := yaml.NewDecoder(r.Body).Decode(&file); err != nil {
			api.BadRequest(w, "invalid camera config body: "+err.Error())
			return
		}
	} else {
		if err := api.DecodeJSON(r, &file); err != nil {
			api.BadRequest(w, err.Error())
			return
		}
	}
	if err := file.Validate(); err != nil {
		api.ValidationErrorResponse(w, api.FromConfigError(err))
		return
	}

	if err := s.manager.Relaunch(serial, &file); err != nil {
		if errors.Is(err, ErrUnknownCamera) {
			api.NotFound(w, "camera "+serial+" is not configured on this node")
			return
		}
		// Config is saved; the device did not come back. The camera stays
		// visible with a stopped status.
		api.ServiceUnavailable(w, err.Error())
		return
	}

	status, _ := s.manager.Status(serial)
	api.OK(w, status)
}

func (s *Server) handleCameraStatus(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	status, err := s.manager.Status(serial)
	if err != nil {
		api.NotFound(w, "camera "+serial+" is not configured on this node")
		return
	}
	if status.State == camera.StateStopped {
		msg := "camera " + serial + " is not operational"
		if status.Error != "" {
			msg += ": " + status.Error
		}
		api.ServiceUnavailable(w, msg)
		return
	}
	api.OK(w, status)
}

// handleLaunchCamera (re)opens a camera from its persisted configuration.
// Dead runtimes stay dead until this is called.
func (s *Server) handleLaunchCamera(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	if err := s.manager.LaunchFromDisk(serial); err != nil {
		if errors.Is(err, ErrUnknownCamera) {
			api.NotFound(w, "camera "+serial+" has no configuration on this node")
			return
		}
		api.ServiceUnavailable(w, err.Error())
		return
	}
	status, _ := s.manager.Status(serial)
	api.OK(w, status)
}

func (s *Server) handleStartStream(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	if err := s.manager.StartStream(serial); err != nil {
		if errors.Is(err, ErrUnknownCamera) {
			api.NotFound(w, "camera "+serial+" is not configured on this node")
			return
		}
		api.Conflict(w, err.Error())
		return
	}
	api.OK(w, map[string]interface{}{"serial": serial, "streaming": true})
}

func (s *Server) handleStopStream(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	if err := s.manager.StopStream(serial); err != nil {
		api.NotFound(w, "camera "+serial+" is not configured on this node")
		return
	}
	api.OK(w, map[string]interface{}{"serial": serial, "streaming": false})
}

func (s *Server) handleStartAll(w http.ResponseWriter, r *http.Request) {
	count := s.manager.StartAll()
	api.OK(w, map[string]interface{}{"cameras": count, "streaming": true})
}

func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	count := s.manager.StopAll()
	api.OK(w, map[string]interface{}{"cameras": count, "streaming": false})
}
