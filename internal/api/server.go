// Package api exposes the HTTP interface for the pagewatch service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/jobmonitor"
	"github.com/JakeFAU/pagewatch/internal/metrics"
	"github.com/JakeFAU/pagewatch/internal/tracker"
)

const (
	defaultRequestTimeout  = 60 * time.Second
	defaultResultCacheSize = 1024
	defaultResultTTL       = time.Hour
)

// TargetService is the change monitor surface served under /v1/targets.
type TargetService interface {
	Track(ctx context.Context, url string, interval time.Duration) (tracker.TrackedTarget, error)
	Untrack(ctx context.Context, url string) (bool, error)
	List() []string
	Check(ctx context.Context, url string, force bool) (*tracker.ChangeRecord, error)
	CheckAll(ctx context.Context, force bool) tracker.CycleReport
	History(url string, limit int) []tracker.ChangeRecord
	Snapshots(url string, limit int) []tracker.Snapshot
	Stats() tracker.TrackingStats
}

// JobWatcher is the job monitor surface served under /v1/jobs.
type JobWatcher interface {
	Submit(ctx context.Context, spec tracker.JobSpec) (string, error)
	Watch(ctx context.Context, jobID string, handlers jobmonitor.Handlers, poll time.Duration) (tracker.JobResult, error)
	Progress(jobID string) (jobmonitor.Progress, bool)
	Active() []string
}

// Config tunes the HTTP surface.
type Config struct {
	AuthEnabled bool
	APIKey      string
	// DefaultInterval is applied to tracked targets submitted without one.
	DefaultInterval time.Duration
	RequestTimeout  time.Duration
	// ResultCacheSize caps how many finished job results are kept (1024).
	// Results older than ResultTTL are evicted (1h).
	ResultCacheSize int
	ResultTTL       time.Duration
}

// Server wires HTTP handlers to the change and job monitors.
type Server struct {
	router   chi.Router
	targets  TargetService
	jobs     JobWatcher
	statuses tracker.JobService
	clock    tracker.Clock
	cfg      Config
	logger   *zap.Logger

	// watchCtx outlives requests so submitted jobs keep being watched.
	watchCtx context.Context
	watches  sync.WaitGroup
	results  *expirable.LRU[string, tracker.JobResult]
}

// NewServer constructs a Server with middleware and routes. statuses answers
// progress queries for jobs this server is not watching and may be nil. When
// statuses implements tracker.JobCanceler, DELETE /v1/jobs/{job_id} cancels.
func NewServer(
	watchCtx context.Context,
	targets TargetService,
	jobs JobWatcher,
	statuses tracker.JobService,
	clock tracker.Clock,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.DefaultInterval < 0 {
		cfg.DefaultInterval = tracker.DefaultCheckInterval
	}
	if cfg.ResultCacheSize <= 0 {
		cfg.ResultCacheSize = defaultResultCacheSize
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = defaultResultTTL
	}
	s := &Server{
		targets:  targets,
		jobs:     jobs,
		statuses: statuses,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named("api"),
		watchCtx: watchCtx,
		results:  expirable.NewLRU[string, tracker.JobResult](cfg.ResultCacheSize, nil, cfg.ResultTTL),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/targets", func(r chi.Router) {
			r.Get("/", s.listTargets)
			r.Post("/", s.trackTarget)
			r.Delete("/", s.untrackTarget)
			r.Post("/check", s.checkTargets)
			r.Get("/history", s.targetHistory)
			r.Get("/snapshots", s.targetSnapshots)
			r.Get("/stats", s.targetStats)
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.listJobs)
			r.Post("/", s.submitJob)
			r.Get("/{job_id}", s.getJob)
			r.Delete("/{job_id}", s.cancelJob)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Wait blocks until every background job watch started by the server ends.
func (s *Server) Wait() {
	s.watches.Wait()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ready",
		"tracked": len(s.targets.List()),
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", requestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
