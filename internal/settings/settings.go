// Package settings persists the frame's mutable runtime state: the update
// interval, the active feed mode, and the last reported battery level. The
// on-disk file is the operator-mountable settings.json.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Mode is the frame's content mode. Friends and XKCD are mutually exclusive;
// ModeStatic means the frame shows whatever photo or text was pushed last.
type Mode string

const (
	ModeStatic  Mode = "static"
	ModeFriends Mode = "friends"
	ModeXKCD    Mode = "xkcd"
)

// fileState is the JSON document written to settings.json. The field names
// are load-bearing: deployments mount existing files with this exact schema.
type fileState struct {
	UpdateDurationMinutes int  `json:"update_duration_minutes"`
	FriendsMode           bool `json:"friends_mode"`
	XKCDMode              bool `json:"xkcd_mode"`
	M5BatteryPercent      int  `json:"m5_battery_percent"`
}

// Store is a mutex-guarded view of settings.json. Every setter persists
// immediately so a crash never loses more than the in-flight change.
type Store struct {
	mu     sync.Mutex
	path   string
	state  fileState
	logger *zap.Logger
}

// Snapshot is a point-in-time copy of the runtime state.
type Snapshot struct {
	Mode            Mode
	IntervalMinutes int
	BatteryPercent  int
}

// New opens the settings file at path. A missing file yields the defaults
// without creating it; a corrupt file is logged and replaced by defaults on
// the next save.
func New(path string, defaultInterval time.Duration, logger *zap.Logger) *Store {
	s := &Store{
		path:   path,
		logger: logger,
		state: fileState{
			UpdateDurationMinutes: int(defaultInterval.Minutes()),
		},
	}
	if s.state.UpdateDurationMinutes <= 0 {
		s.state.UpdateDurationMinutes = 30
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("no settings file; using defaults", zap.String("path", path))
		} else {
			logger.Warn("failed to read settings file", zap.String("path", path), zap.Error(err))
		}
		return s
	}

	var loaded fileState
	if err := json.Unmarshal(data, &loaded); err != nil {
		logger.Warn("settings file is corrupt; using defaults", zap.String("path", path), zap.Error(err))
		return s
	}
	if loaded.UpdateDurationMinutes <= 0 {
		loaded.UpdateDurationMinutes = s.state.UpdateDurationMinutes
	}
	// Both flags set is an impossible state; static mode wins.
	if loaded.FriendsMode && loaded.XKCDMode {
		logger.Warn("settings file has both feed modes set; clearing both")
		loaded.FriendsMode = false
		loaded.XKCDMode = false
	}
	s.state = loaded
	logger.Info("loaded settings",
		zap.Int("update_duration_minutes", loaded.UpdateDurationMinutes),
		zap.Bool("friends_mode", loaded.FriendsMode),
		zap.Bool("xkcd_mode", loaded.XKCDMode),
		zap.Int("battery_percent", loaded.M5BatteryPercent))
	return s
}

// Interval returns the device sleep interval.
func (s *Store) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.state.UpdateDurationMinutes) * time.Minute
}

// IntervalMinutes returns the device sleep interval in whole minutes.
func (s *Store) IntervalMinutes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.UpdateDurationMinutes
}

// SetInterval sets and persists the sleep interval.
func (s *Store) SetInterval(minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("interval must be positive, got %d", minutes)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.UpdateDurationMinutes = minutes
	return s.persistLocked()
}

// Mode returns the active content mode.
func (s *Store) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modeLocked()
}

func (s *Store) modeLocked() Mode {
	switch {
	case s.state.FriendsMode:
		return ModeFriends
	case s.state.XKCDMode:
		return ModeXKCD
	default:
		return ModeStatic
	}
}

// SetMode sets and persists the content mode.
func (s *Store) SetMode(mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch mode {
	case ModeFriends:
		s.state.FriendsMode = true
		s.state.XKCDMode = false
	case ModeXKCD:
		s.state.FriendsMode = false
		s.state.XKCDMode = true
	case ModeStatic:
		s.state.FriendsMode = false
		s.state.XKCDMode = false
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	return s.persistLocked()
}

// Battery returns the last battery percentage the device reported.
func (s *Store) Battery() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.M5BatteryPercent
}

// SetBattery sets and persists the reported battery percentage.
func (s *Store) SetBattery(percent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.M5BatteryPercent = percent
	return s.persistLocked()
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Mode:            s.modeLocked(),
		IntervalMinutes: s.state.UpdateDurationMinutes,
		BatteryPercent:  s.state.M5BatteryPercent,
	}
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	s.logger.Debug("saved settings",
		zap.Int("update_duration_minutes", s.state.UpdateDurationMinutes),
		zap.String("mode", string(s.modeLocked())),
		zap.Int("battery_percent", s.state.M5BatteryPercent))
	return nil
}
