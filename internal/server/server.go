package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gonum.org/v1/plot/vg"

	"github.com/cwbudde/polywalk/internal/opt"
	"github.com/cwbudde/polywalk/internal/polytope"
	"github.com/cwbudde/polywalk/internal/render"
	"github.com/cwbudde/polywalk/internal/store"
	"github.com/cwbudde/polywalk/internal/walk"
)

// Server is the HTTP walk server
type Server struct {
	sessions     *SessionManager
	store        store.Store
	dataDir      string
	solver       opt.LinearSolver
	metrics      *Metrics
	addr         string
	server       *http.Server
	pingInterval time.Duration

	// Worker lifetime; cancelled on Shutdown. closing is guarded by mu and
	// keeps workers.Add from racing workers.Wait.
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	closing bool
	workers sync.WaitGroup
}

// errShuttingDown rejects new walks once Shutdown has begun.
var errShuttingDown = errors.New("server is shutting down")

// Option configures a Server
type Option func(*Server)

// WithPingInterval sets how often idle SSE streams receive a keep-alive comment.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// NewServer creates a walk server. checkpointStore may be nil to disable
// checkpoints; an empty dataDir disables traces and projections.
func NewServer(addr string, checkpointStore store.Store, dataDir string, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		sessions:     NewSessionManager(),
		store:        checkpointStore,
		dataDir:      dataDir,
		solver:       opt.NewSimplex(0),
		metrics:      NewMetrics(),
		addr:         addr,
		pingInterval: 30 * time.Second,
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, apply := range opts {
		apply(s)
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Sessions returns the session manager
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)
	r.Use(corsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/checkpoints", s.handleListCheckpoints)
		r.Route("/walks", func(r chi.Router) {
			r.Post("/", s.handleCreateWalk)
			r.Get("/", s.handleListWalks)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetWalk)
				r.Post("/stop", s.handleStopWalk)
				r.Post("/resume", s.handleResumeWalk)
				r.Get("/stream", s.handleStream)
				r.Get("/trace", s.handleTrace)
				r.Get("/projection.png", s.handleProjection)
			})
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	slog.Info("Starting HTTP server", "addr", s.addr, "data_dir", s.dataDir, "checkpoints", s.store != nil)
	return s.server.ListenAndServe()
}

// Shutdown cancels running walks, waits for their final checkpoints and
// then stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server", "running_walks", len(s.sessions.GetRunningSessions()))
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Timed out waiting for walks to stop")
	}

	return s.server.Shutdown(ctx)
}

// reserveWorker registers a worker that startWorker will launch. It fails
// once Shutdown has begun.
func (s *Server) reserveWorker() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return errShuttingDown
	}
	s.workers.Add(1)
	return nil
}

// startWorker runs a walk reserved by reserveWorker.
func (s *Server) startWorker(sessionID string, from *store.Checkpoint) {
	deps := workerDeps{
		sessions: s.sessions,
		store:    s.store,
		dataDir:  s.dataDir,
		metrics:  s.metrics,
		solver:   s.solver,
	}
	go func() {
		defer s.workers.Done()
		runWalk(s.ctx, deps, sessionID, from)
	}()
}

// handleCreateWalk handles POST /api/v1/walks
func (s *Server) handleCreateWalk(w http.ResponseWriter, r *http.Request) {
	var config SessionConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.reserveWorker(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	session := s.sessions.CreateSession(config)
	s.startWorker(session.ID, nil)

	writeJSON(w, http.StatusCreated, session)
}

// handleListWalks handles GET /api/v1/walks
func (s *Server) handleListWalks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.ListSessions())
}

// sessionStatus adds throughput figures to a session snapshot
type sessionStatus struct {
	*Session
	Elapsed        float64 `json:"elapsed"`
	StepsPerSecond float64 `json:"stepsPerSecond"`
}

// handleGetWalk handles GET /api/v1/walks/{id}
func (s *Server) handleGetWalk(w http.ResponseWriter, r *http.Request) {
	session, exists := s.sessions.GetSession(chi.URLParam(r, "id"))
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	var elapsed time.Duration
	if session.EndTime != nil {
		elapsed = session.EndTime.Sub(session.StartTime)
	} else {
		elapsed = time.Since(session.StartTime)
	}
	rate := 0.0
	if elapsed > 0 {
		rate = float64(session.Steps-session.ResumedAt) / elapsed.Seconds()
	}

	writeJSON(w, http.StatusOK, sessionStatus{Session: session, Elapsed: elapsed.Seconds(), StepsPerSecond: rate})
}

// handleStopWalk handles POST /api/v1/walks/{id}/stop
func (s *Server) handleStopWalk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := s.sessions.RequestStop(id)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	if state.Terminal() {
		http.Error(w, fmt.Sprintf("Session already %s", state), http.StatusConflict)
		return
	}
	slog.Info("Stop requested", "session_id", id)
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "state": state, "stopRequested": true})
}

// handleResumeWalk handles POST /api/v1/walks/{id}/resume
func (s *Server) handleResumeWalk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.store == nil {
		http.Error(w, "Checkpoints are disabled", http.StatusNotImplemented)
		return
	}

	checkpoint, err := s.store.LoadCheckpoint(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Checkpoint not found", http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := checkpoint.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	if err := s.reserveWorker(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	session, err := s.sessions.CreateSessionWithID(id, checkpoint.Config)
	if err != nil {
		s.workers.Done()
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	s.startWorker(id, checkpoint)

	slog.Info("Resuming walk", "session_id", id, "steps", checkpoint.Steps)
	writeJSON(w, http.StatusCreated, session)
}

// handleListCheckpoints handles GET /api/v1/checkpoints
func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []store.CheckpointInfo{})
		return
	}
	infos, err := s.store.ListCheckpoints(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleTrace handles GET /api/v1/walks/{id}/trace
func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.dataDir == "" {
		http.Error(w, "Traces are disabled", http.StatusNotFound)
		return
	}

	f, err := os.Open(store.TracePath(s.dataDir, id))
	if os.IsNotExist(err) {
		http.Error(w, "Trace not found", http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".jsonl"))
	if _, err := io.Copy(w, f); err != nil {
		slog.Warn("Failed to send trace", "session_id", id, "error", err)
	}
}

// handleProjection handles GET /api/v1/walks/{id}/projection.png?x=0&y=1[&size=576][&box=1]
func (s *Server) handleProjection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.dataDir == "" {
		http.Error(w, "Traces are disabled", http.StatusNotFound)
		return
	}

	query := r.URL.Query()
	x, errX := intParam(query.Get("x"), 0)
	y, errY := intParam(query.Get("y"), 1)
	size, errSize := intParam(query.Get("size"), 576)
	if errX != nil || errY != nil || errSize != nil {
		http.Error(w, "x, y and size must be integers", http.StatusBadRequest)
		return
	}
	if size < 64 || size > 4096 {
		http.Error(w, "size must be between 64 and 4096 pixels", http.StatusBadRequest)
		return
	}

	reader, err := store.NewTraceReader(s.dataDir, id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Trace not found", http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	entries, err := reader.ReadAll()
	reader.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(entries) == 0 {
		http.Error(w, "No waypoints yet", http.StatusNotFound)
		return
	}

	waypoints := make([]walk.Waypoint, len(entries))
	for i, e := range entries {
		waypoints[i] = e.Waypoint()
	}

	projection := render.Projection{X: x, Y: y, Title: id}
	if query.Get("box") == "1" {
		if session, ok := s.sessions.GetSession(id); ok {
			projection.Lower, projection.Upper = s.boundingBox(session.Config.Region)
		}
	}

	pl, err := projection.Plot(waypoints)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	wt, err := pl.WriterTo(vgLength(size), vgLength(size), "png")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := wt.WriteTo(w); err != nil {
		slog.Error("Failed to encode PNG", "error", err)
	}
}

// boundingBox returns nil slices when the box cannot be computed.
func (s *Server) boundingBox(spec polytope.RegionSpec) ([]float64, []float64) {
	region, err := spec.Build(s.solver)
	if err != nil {
		return nil, nil
	}
	lower, upper, err := polytope.BoundingBox(region, s.solver)
	if err != nil {
		slog.Debug("Bounding box unavailable", "error", err)
		return nil, nil
	}
	return lower, upper
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// vgLength converts pixels at the PNG canvas' 96 DPI.
func vgLength(px int) vg.Length {
	return vg.Length(px) * vg.Inch / 96
}
