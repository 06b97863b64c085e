// Package ops serves the operational endpoints (/metrics, /healthz, /status)
// while a long command runs.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sagecloud/kbcrawl/internal/domain"
	"github.com/sagecloud/kbcrawl/internal/usecase/health"
)

// RunReader provides the latest ingest run for /status.
type RunReader interface {
	LatestRun(ctx context.Context) (*domain.IngestRun, error)
}

// Server is the operational HTTP listener.
type Server struct {
	addr    string
	runs    RunReader
	health  *health.Service
	logger  *zap.Logger
	handler http.Handler
}

// NewServer wires the ops router. A non-empty authToken protects every route
// except /healthz and /metrics.
func NewServer(addr, authToken string, runs RunReader, checker *health.Service, logger *zap.Logger) *Server {
	s := &Server{addr: addr, runs: runs, health: checker, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(AuthMiddleware(authToken))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	s.handler = r

	return s
}

// ServeHTTP dispatches to the ops router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Start begins serving in the background and stops when ctx is cancelled.
// The listener dies with the process; long commands have no graceful-drain
// requirement.
func (s *Server) Start(ctx context.Context) {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.logger.Info("ops listener started", zap.String("addr", s.addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("ops listener failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != health.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, report)
}

// handleStatus handles GET /status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.LatestRun(r.Context())
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no ingest runs recorded")
		return
	}
	if err != nil {
		s.logger.Error("read latest run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
