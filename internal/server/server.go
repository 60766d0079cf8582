package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cwbudde/maximizer/internal/config"
	"github.com/cwbudde/maximizer/internal/metrics"
	"github.com/cwbudde/maximizer/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// maxConfigBody limits the size of a submitted run configuration
const maxConfigBody = 1 << 20

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	addr       string
	// outputDir replaces output.dir of submitted configurations when set
	outputDir string
	metrics   *metrics.Metrics
	server    *http.Server

	// baseCtx is the parent of all job contexts; cancel stops running jobs
	baseCtx context.Context
	cancel  context.CancelFunc
	// mu orders job starts against Shutdown; closing is set once Shutdown began
	mu      sync.Mutex
	closing bool
	jobs    sync.WaitGroup
}

// NewServer creates a new HTTP server. Runs are written below outputDir;
// an empty outputDir keeps the output.dir of each submitted configuration.
func NewServer(addr, outputDir string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		jobManager: NewJobManager(),
		addr:       addr,
		outputDir:  outputDir,
		metrics:    metrics.New(),
		baseCtx:    ctx,
		cancel:     cancel,
	}
}

// Router returns the HTTP handler with all routes registered
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/v1/runs", func(r chi.Router) {
		r.Post("/", s.handleCreateJob)
		r.Get("/", s.handleListJobs)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetJobStatus)
			r.Get("/stream", s.handleJobStream)
			r.Get("/table", s.handleGetTable)
		})
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting HTTP server", "addr", s.addr, "output_dir", s.outputDir)
	return s.server.ListenAndServe()
}

// Shutdown cancels running jobs, waits for them and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server", "running_jobs", len(s.jobManager.GetRunningJobs()))
	s.mu.Lock()
	s.closing = true
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Jobs still running at shutdown deadline")
	}

	// Release SSE clients so their connections can close
	for _, job := range s.jobManager.ListJobs() {
		s.jobManager.broadcaster.CleanupJob(job.ID)
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateJob handles POST /api/v1/runs. The body is a run configuration in YAML or JSON.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxConfigBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("configuration exceeds %d bytes", maxConfigBody))
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read body: %v", err))
		return
	}

	cfg, err := config.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if cfg.Parallel.Transport != config.TransportLocal {
		writeError(w, http.StatusBadRequest, "server runs support the local transport only")
		return
	}
	if s.outputDir != "" {
		cfg.Output.Dir = s.outputDir
	}
	// Server metrics are served on /metrics, never written to client-chosen paths
	cfg.Output.MetricsFile = ""

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	job := s.jobManager.CreateJob(*cfg)
	s.jobs.Add(1)
	s.mu.Unlock()
	slog.Info("Job created", "job_id", job.ID, "params", len(cfg.Model.Params))

	// Start worker in background
	go func() {
		defer s.jobs.Done()
		if err := runJob(s.baseCtx, s.jobManager, s.metrics, job.ID); err != nil {
			slog.Debug("Job ended with error", "job_id", job.ID, "error", err)
		}
	}()

	writeJSON(w, http.StatusCreated, job)
}

// handleListJobs handles GET /api/v1/runs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// jobStatus is a job with its running time
type jobStatus struct {
	Job
	Elapsed float64 `json:"elapsed"`
}

// handleGetJobStatus handles GET /api/v1/runs/{id}
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request) {
	job, exists := s.jobManager.GetJob(chi.URLParam(r, "id"))
	if !exists {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, jobStatus{Job: job, Elapsed: elapsed(job).Seconds()})
}

// handleGetTable handles GET /api/v1/runs/{id}/table
func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	job, exists := s.jobManager.GetJob(chi.URLParam(r, "id"))
	if !exists {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Maximum == nil {
		writeError(w, http.StatusNotFound, "no maximum yet")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := io.WriteString(w, store.FormatTable(*job.Maximum)); err != nil {
		slog.Error("Failed to write table", "job_id", job.ID, "error", err)
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}
