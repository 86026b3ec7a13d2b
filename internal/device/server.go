// Package device speaks the frame's wake protocol. The panel firmware keeps
// a WebSocket open only long enough to check in, so the server treats every
// message as a small pipe-delimited command and answers at most once.
package device

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"inkframe/internal/sched"
	"inkframe/internal/settings"
	"inkframe/internal/telemetry"
)

const cmdCheckForImage = "checkForImage"

// Display is the slice of the display controller the check-in needs.
type Display interface {
	Refresh(ctx context.Context) error
	ImageReady() bool
	ImageURL() string
}

// CheckinLog records device wakes.
type CheckinLog interface {
	RecordCheckin(ctx context.Context, c telemetry.Checkin) error
}

// Config holds the endpoint wiring.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Server accepts device connections and answers check-ins.
type Server struct {
	cfg      Config
	display  Display
	settings *settings.Store
	night    sched.Window
	checkins CheckinLog
	logger   *zap.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.Mutex
	conns   map[string]*websocket.Conn
	closing bool
}

// New wires a device server. checkins may be nil to skip recording.
func New(cfg Config, display Display, st *settings.Store, night sched.Window, checkins CheckinLog, logger *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		display:  display,
		settings: st,
		night:    night,
		checkins: checkins,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The firmware connects straight from the LAN and sends no
			// Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		now:   time.Now,
		conns: make(map[string]*websocket.Conn),
	}
}

// ServeHTTP upgrades the connection and runs the read loop. The request path
// is ignored; the firmware dials the bare port.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	id := uuid.NewString()
	if !s.track(id, conn) {
		_ = conn.Close()
		return
	}
	defer s.untrack(id, conn)

	s.logger.Info("device connected", zap.String("conn", id), zap.String("remote", r.RemoteAddr))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Info("device disconnected", zap.String("conn", id))
			return
		}
		s.handleMessage(r.Context(), conn, id, string(data))
	}
}

func (s *Server) handleMessage(ctx context.Context, conn *websocket.Conn, id, msg string) {
	s.logger.Debug("device message", zap.String("conn", id), zap.String("message", msg))

	cmd, battery, hasBattery := parseMessage(msg)
	if hasBattery {
		s.logger.Info("device reported battery", zap.String("conn", id), zap.Int("percent", battery))
		if err := s.settings.SetBattery(battery); err != nil {
			s.logger.Warn("failed to persist battery level", zap.Error(err))
		}
	}
	if cmd != cmdCheckForImage {
		s.logger.Debug("ignoring unknown device command", zap.String("conn", id), zap.String("command", cmd))
		return
	}

	// The sleep budget is decided before the refresh so a slow feed fetch
	// never eats into the device's night window.
	sleep := s.night.SleepMinutes(s.now(), s.settings.IntervalMinutes())
	if err := s.display.Refresh(ctx); err != nil {
		s.logger.Warn("refresh failed, previous image stays up", zap.String("conn", id), zap.Error(err))
	}

	updated := s.display.ImageReady()
	var reply string
	if updated {
		reply = fmt.Sprintf("update:%s|duration:%d", s.display.ImageURL(), sleep)
	} else {
		reply = fmt.Sprintf("no_update|duration:%d", sleep)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
		s.logger.Warn("failed to answer check-in", zap.String("conn", id), zap.Error(err))
		return
	}
	s.logger.Info("check-in answered",
		zap.String("conn", id),
		zap.Bool("update", updated),
		zap.Int("sleep_minutes", sleep))

	if s.checkins == nil {
		return
	}
	// The log entry should survive the device dropping the line right
	// after the reply.
	rec := telemetry.Checkin{
		At:           s.now(),
		Battery:      s.settings.Battery(),
		Mode:         string(s.settings.Mode()),
		Updated:      updated,
		SleepMinutes: sleep,
	}
	if err := s.checkins.RecordCheckin(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Warn("failed to record check-in", zap.Error(err))
	}
}

// parseMessage splits a device message into its base command and an optional
// battery reading. Attributes only exist on piped messages; a bare message is
// all command. A malformed battery value is ignored.
func parseMessage(msg string) (cmd string, battery int, ok bool) {
	if !strings.Contains(msg, "|") {
		return msg, 0, false
	}
	parts := strings.Split(msg, "|")
	cmd = parts[0]
	for _, p := range parts[1:] {
		if !strings.HasPrefix(p, "battery:") {
			continue
		}
		v, err := strconv.Atoi(strings.Split(p, ":")[1])
		if err != nil {
			continue
		}
		battery, ok = v, true
	}
	return cmd, battery, ok
}

func (s *Server) track(id string, conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[id] = conn
	return true
}

func (s *Server) untrack(id string, conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	s.closing = true
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// ListenAndServe runs the device endpoint until ctx is canceled, then closes
// the open connections and shuts the listener down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	s.logger.Info("device endpoint listening", zap.String("addr", s.cfg.Addr))

	select {
	case err := <-errCh:
		return fmt.Errorf("device endpoint failed: %w", err)
	case <-ctx.Done():
	}

	s.closeConns()
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("device endpoint shutdown: %w", err)
	}
	return nil
}
