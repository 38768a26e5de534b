package node

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/argos-vision/argos/internal/logging"
)

// Server is the node HTTP service: camera control, log window, health,
// and the event socket.
type Server struct {
	manager *Manager
	hub     *Hub
	ring    *logging.RingBuffer
	logger  *slog.Logger
	started time.Time
	httpSrv *http.Server
}

// NewServer wires the node API around the camera manager and event hub.
func NewServer(manager *Manager, hub *Hub, ring *logging.RingBuffer) *Server {
	s := &Server{
		manager: manager,
		hub:     hub,
		ring:    ring,
		logger:  slog.Default().With("component", "node-api"),
		started: time.Now(),
	}
	hub.OnClientEdge(manager.AttachEmitters, manager.DetachEmitters)
	return s
}

// Router builds the node's route table.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/logs", s.handleLogs)
	r.Get("/events", s.hub.HandleWebSocket)

	r.Get("/cameras", s.handleListCameras)
	r.Route("/cameras/{serial}", func(r chi.Router) {
		r.Get("/config", s.handleGetCameraConfig)
		r.Put("/config", s.handlePutCameraConfig)
		r.Get("/status", s.handleCameraStatus)
		r.Post("/launch", s.handleLaunchCamera)
		r.Post("/stream/start", s.handleStartStream)
		r.Post("/stream/stop", s.handleStopStream)
	})

	r.Post("/stream/start_all", s.handleStartAll)
	r.Post("/stream/stop_all", s.handleStopAll)

	return r
}

// ListenAndServe starts the HTTP listener and blocks until it closes.
func (s *Server) ListenAndServe(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info("node API listening", "address", addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Uptime reports how long the server has been running.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.started)
}
