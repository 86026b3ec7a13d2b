// Package httpserver serves the panel image to the device plus a small
// status API for operators.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"inkframe/internal/display"
	"inkframe/internal/telemetry"
)

// Display is the slice of the display controller the HTTP surface needs.
type Display interface {
	ImagePath() string
	ImageReady() bool
	Status() display.Status
}

// CheckinSource reads the device wake log.
type CheckinSource interface {
	LastCheckin(ctx context.Context) (*telemetry.Checkin, error)
}

// Config holds the listener wiring.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the image and status HTTP server.
type Server struct {
	cfg      Config
	display  Display
	checkins CheckinSource
	logger   *zap.Logger
}

// New wires a server. checkins may be nil when no wake log is available.
func New(cfg Config, display Display, checkins CheckinSource, logger *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		display:  display,
		checkins: checkins,
		logger:   logger,
	}
}

// Routes returns the router with all routes configured.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	// The firmware requests the image by its bare file name.
	r.Get("/"+filepath.Base(s.display.ImagePath()), s.handleImage)

	return r
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if !s.display.ImageReady() {
		http.Error(w, "Image not found", http.StatusNotFound)
		return
	}
	s.logger.Info("serving panel image", zap.String("remote", r.RemoteAddr))
	http.ServeFile(w, r, s.display.ImagePath())
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

type checkinResponse struct {
	At           time.Time `json:"at"`
	Battery      int       `json:"battery"`
	Mode         string    `json:"mode"`
	Updated      bool      `json:"updated"`
	SleepMinutes int       `json:"sleep_minutes"`
}

type statusResponse struct {
	display.Status
	LastCheckin *checkinResponse `json:"last_checkin,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: s.display.Status()}
	if s.checkins != nil {
		last, err := s.checkins.LastCheckin(r.Context())
		if err != nil {
			s.logger.Warn("failed to read last check-in", zap.Error(err))
		} else if last != nil {
			resp.LastCheckin = &checkinResponse{
				At:           last.At,
				Battery:      last.Battery,
				Mode:         last.Mode,
				Updated:      last.Updated,
				SleepMinutes: last.SleepMinutes,
			}
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)))
	})
}

// ListenAndServe runs the server until ctx is canceled, then drains in-flight
// requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
