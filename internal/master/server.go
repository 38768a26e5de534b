package master

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/argos-vision/argos/internal/config"
	"github.com/argos-vision/argos/internal/database"
	"github.com/argos-vision/argos/internal/logging"
)

// Service is the assembled master: event bus, node roster with one live
// session per node, fan-out, recorder, dataset registry, history journal,
// viewer hub, and the optional operation schedule.
type Service struct {
	layout config.Layout
	cfg    *config.MasterFile
	logger *slog.Logger
	ring   *logging.RingBuffer

	bus        *EventBus
	registry   *Registry
	datasets   *DatasetRegistry
	db         *database.DB
	repo       *database.RecordingsRepo
	recorder   *Recorder
	dispatcher *Dispatcher
	proxy      *NodeProxy
	gui        *GUIHub
	scheduler  *Scheduler

	nodeClient *http.Client

	mu       sync.Mutex
	sessions map[int]*NodeSession

	started time.Time
	httpSrv *http.Server
}

// New assembles the master from its settings. Nothing runs until Start.
func New(layout config.Layout, cfg *config.MasterFile, ring *logging.RingBuffer) (*Service, error) {
	logger := slog.Default().With("component", "master")

	bus, err := NewEventBus(EventBusConfig{Host: cfg.Events.Host, Port: cfg.Events.Port}, slog.Default())
	if err != nil {
		return nil, err
	}

	db, err := database.Open(database.DefaultConfig(layout.HistoryDBPath()))
	if err != nil {
		bus.Stop()
		return nil, err
	}
	if err := database.NewMigrator(db).Run(context.Background()); err != nil {
		_ = db.Close()
		bus.Stop()
		return nil, err
	}

	datasets, err := NewDatasetRegistry(layout, slog.Default())
	if err != nil {
		_ = db.Close()
		bus.Stop()
		return nil, err
	}

	registry, err := LoadRegistry(layout, slog.Default())
	if err != nil {
		_ = db.Close()
		bus.Stop()
		return nil, err
	}

	repo := database.NewRecordingsRepo(db)
	recorder := NewRecorder(datasets, repo, cfg.Recording.QueueSize, slog.Default())
	dispatcher := NewDispatcher(bus, recorder, slog.Default())

	s := &Service{
		layout:     layout,
		cfg:        cfg,
		logger:     logger,
		ring:       ring,
		bus:        bus,
		registry:   registry,
		datasets:   datasets,
		db:         db,
		repo:       repo,
		recorder:   recorder,
		dispatcher: dispatcher,
		proxy:      NewNodeProxy(slog.Default()),
		gui:        NewGUIHub(bus, slog.Default()),
		nodeClient: &http.Client{Timeout: 10 * time.Second},
		sessions:   make(map[int]*NodeSession),
		started:    time.Now(),
	}

	if cfg.Schedule.Enabled {
		sched, err := NewScheduler(cfg.Schedule,
			func() { s.broadcastStreamToggle("start_all") },
			func() { s.broadcastStreamToggle("stop_all") },
			slog.Default())
		if err != nil {
			_ = db.Close()
			bus.Stop()
			return nil, err
		}
		s.scheduler = sched
	}

	return s, nil
}

// Start brings up the viewer hub, one session per registered node, and
// the schedule.
func (s *Service) Start() error {
	if err := s.gui.Start(); err != nil {
		return fmt.Errorf("failed to start viewer hub: %w", err)
	}

	for _, rec := range s.registry.List() {
		s.startSession(rec)
	}

	if s.scheduler != nil {
		s.scheduler.Start()
	}

	s.logger.Info("Master started", "nodes", len(s.registry.List()), "events_url", s.bus.ClientURL())
	return nil
}

// Stop tears everything down: sessions first so no new frames arrive,
// then the recorder so queues drain to disk, then the consumers.
func (s *Service) Stop() {
	s.mu.Lock()
	sessions := make([]*NodeSession, 0, len(s.sessions))
	for id, sess := range s.sessions {
		sessions = append(sessions, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *NodeSession) {
			defer wg.Done()
			sess.Stop()
		}(sess)
	}
	wg.Wait()

	s.recorder.StopAll()

	if s.scheduler != nil {
		if err := s.scheduler.Stop(); err != nil {
			s.logger.Warn("Scheduler shutdown failed", "error", err)
		}
	}

	s.gui.Stop()
	s.bus.Stop()
	if err := s.db.Close(); err != nil {
		s.logger.Warn("Database close failed", "error", err)
	}

	s.logger.Info("Master stopped")
}

// EventsURL returns the bus client URL advertised to consumers.
func (s *Service) EventsURL() string {
	return s.bus.ClientURL()
}

func (s *Service) startSession(rec NodeRecord) {
	sess := NewNodeSession(rec, s.dispatcher, slog.Default())

	s.mu.Lock()
	s.sessions[rec.ID] = sess
	s.mu.Unlock()

	go sess.Run()
}

func (s *Service) stopSession(id int) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if ok {
		sess.Stop()
	}
	s.recorder.StopAllForNode(id)
}

func (s *Service) session(id int) (*NodeSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// broadcastStreamToggle POSTs /stream/<action> to every registered node.
// Used by the operation schedule.
func (s *Service) broadcastStreamToggle(action string) {
	for _, rec := range s.registry.List() {
		url := fmt.Sprintf("http://%s/stream/%s", rec.Address, action)
		resp, err := s.nodeClient.Post(url, "application/json", nil)
		if err != nil {
			s.logger.Warn("Stream toggle failed", "node", rec.ID, "action", action, "error", err)
			continue
		}
		_ = resp.Body.Close()
		s.logger.Info("Stream toggle sent", "node", rec.ID, "action", action, "status", resp.StatusCode)
	}
}

// Router builds the master's route table.
func (s *Service) Router() *chi.Mux {
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
	r.Get("/ws/gui", s.gui.HandleWS)

	r.Get("/nodes", s.handleListNodes)
	r.Post("/nodes", s.handleCreateNode)
	r.Post("/nodes/emit_update_events_list_events", s.handleEmitCameraLists)
	r.Route("/nodes/{id}", func(r chi.Router) {
		r.Put("/", s.handleUpdateNode)
		r.Delete("/", s.handleDeleteNode)
		r.Get("/image", s.handleNodeImage)
		r.Post("/cameras/{serial}/record", s.handleRecordToggle)
		r.Handle("/*", http.HandlerFunc(s.handleNodeProxy))
	})

	r.Get("/datasets", s.handleListDatasets)
	r.Post("/datasets", s.handleCreateDataset)
	r.Route("/datasets/{name}", func(r chi.Router) {
		r.Put("/", s.handleRenameDataset)
		r.Delete("/", s.handleDeleteDataset)
		r.Get("/images", s.handleListDatasetImages)
		r.Get("/images/{file}", s.handleDatasetImage)
	})

	r.Get("/recordings", s.handleListRecordings)

	return r
}

// ListenAndServe starts the HTTP listener and blocks until it closes.
func (s *Service) ListenAndServe(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info("master API listening", "address", addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown stops the HTTP listener.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
