// Package api exposes the HTTP control surface for the monitor service:
// health and metrics endpoints plus per-user start/stop/status handles.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/restockd/restockd/internal/configstore"
	"github.com/restockd/restockd/internal/monitor"
	"github.com/restockd/restockd/internal/telemetry"
)

// Controller is the monitor registry surface the API drives.
type Controller interface {
	Start(userID string) error
	Stop(userID string, grace time.Duration) error
	Status(userID string) (monitor.State, monitor.CycleStats, bool)
	Snapshot() map[string]monitor.State
}

// Server wires HTTP handlers to the monitor registry.
type Server struct {
	router     chi.Router
	controller Controller
	store      configstore.Provider
	logger     *zap.Logger
	stopGrace  time.Duration
}

// NewServer constructs a Server with middleware and routes.
func NewServer(controller Controller, store configstore.Provider, stopGrace time.Duration, logger *zap.Logger) *Server {
	s := &Server{
		controller: controller,
		store:      store,
		logger:     logger,
		stopGrace:  stopGrace,
	}

	r := chi.NewRouter()
	r.Use(requestLogger(logger))
	r.Use(recoverer(logger))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1/monitors", func(r chi.Router) {
		r.Get("/", s.listMonitors)
		r.Route("/{user_id}", func(r chi.Router) {
			r.Get("/", s.monitorStatus)
			r.Post("/start", s.startMonitor)
			r.Post("/stop", s.stopMonitor)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("control api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control api shutdown: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "config store unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listMonitors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

func (s *Server) monitorStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	state, stats, ok := s.controller.Status(userID)
	if !ok {
		writeError(w, http.StatusNotFound, "no monitor running for user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    userID,
		"state":      state,
		"last_cycle": stats,
	})
}

func (s *Server) startMonitor(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if err := s.controller.Start(userID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"user_id": userID, "state": "starting"})
}

func (s *Server) stopMonitor(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if err := s.controller.Stop(userID, s.stopGrace); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "state": "stopped"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverer(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panic", zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
