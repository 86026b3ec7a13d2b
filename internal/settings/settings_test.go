package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	return New(path, 30*time.Minute, zap.NewNop()), path
}

func TestNew_MissingFileUsesDefaults(t *testing.T) {
	s, path := newTestStore(t)

	if got := s.IntervalMinutes(); got != 30 {
		t.Errorf("IntervalMinutes=%d, want 30", got)
	}
	if got := s.Mode(); got != ModeStatic {
		t.Errorf("Mode=%q, want static", got)
	}
	if got := s.Battery(); got != 0 {
		t.Errorf("Battery=%d, want 0", got)
	}
	// Loading must not create the file
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("New should not create the settings file")
	}
}

func TestNew_CorruptFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	s := New(path, 30*time.Minute, zap.NewNop())
	if got := s.IntervalMinutes(); got != 30 {
		t.Errorf("IntervalMinutes=%d, want 30", got)
	}
}

func TestNew_LoadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	body := `{"update_duration_minutes": 60, "friends_mode": true, "xkcd_mode": false, "m5_battery_percent": 87}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	s := New(path, 30*time.Minute, zap.NewNop())
	if got := s.IntervalMinutes(); got != 60 {
		t.Errorf("IntervalMinutes=%d, want 60", got)
	}
	if got := s.Mode(); got != ModeFriends {
		t.Errorf("Mode=%q, want friends", got)
	}
	if got := s.Battery(); got != 87 {
		t.Errorf("Battery=%d, want 87", got)
	}
}

func TestNew_BothModesSetClearsBoth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	body := `{"update_duration_minutes": 30, "friends_mode": true, "xkcd_mode": true, "m5_battery_percent": 0}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	s := New(path, 30*time.Minute, zap.NewNop())
	if got := s.Mode(); got != ModeStatic {
		t.Errorf("Mode=%q, want static", got)
	}
}

func TestStore_SettersPersist(t *testing.T) {
	s, path := newTestStore(t)

	if err := s.SetInterval(5); err != nil {
		t.Fatalf("SetInterval: %v", err)
	}
	if err := s.SetMode(ModeXKCD); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if err := s.SetBattery(42); err != nil {
		t.Fatalf("SetBattery: %v", err)
	}

	// Reopen and verify disk state
	s2 := New(path, 30*time.Minute, zap.NewNop())
	if got := s2.IntervalMinutes(); got != 5 {
		t.Errorf("IntervalMinutes=%d, want 5", got)
	}
	if got := s2.Mode(); got != ModeXKCD {
		t.Errorf("Mode=%q, want xkcd", got)
	}
	if got := s2.Battery(); got != 42 {
		t.Errorf("Battery=%d, want 42", got)
	}
}

func TestStore_JSONFieldNames(t *testing.T) {
	s, path := newTestStore(t)
	if err := s.SetMode(ModeFriends); err != nil {
		t.Fatalf("SetMode: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("settings file is not valid JSON: %v", err)
	}
	for _, key := range []string{"update_duration_minutes", "friends_mode", "xkcd_mode", "m5_battery_percent"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("settings file missing key %q", key)
		}
	}
}

func TestStore_ModeMutualExclusion(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.SetMode(ModeFriends); err != nil {
		t.Fatalf("SetMode(friends): %v", err)
	}
	if err := s.SetMode(ModeXKCD); err != nil {
		t.Fatalf("SetMode(xkcd): %v", err)
	}
	snap := s.Snapshot()
	if snap.Mode != ModeXKCD {
		t.Errorf("Mode=%q, want xkcd", snap.Mode)
	}

	if err := s.SetMode(ModeStatic); err != nil {
		t.Fatalf("SetMode(static): %v", err)
	}
	if got := s.Mode(); got != ModeStatic {
		t.Errorf("Mode=%q, want static", got)
	}

	if err := s.SetMode(Mode("bogus")); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestStore_SetIntervalRejectsNonPositive(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.SetInterval(0); err == nil {
		t.Error("expected error for zero interval")
	}
	if err := s.SetInterval(-5); err == nil {
		t.Error("expected error for negative interval")
	}
}
