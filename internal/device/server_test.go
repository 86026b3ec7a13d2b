package device

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"inkframe/internal/sched"
	"inkframe/internal/settings"
	"inkframe/internal/telemetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubDisplay struct {
	mu         sync.Mutex
	ready      bool
	url        string
	refreshErr error
	refreshes  int
}

func (d *stubDisplay) Refresh(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refreshes++
	return d.refreshErr
}

func (d *stubDisplay) ImageReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

func (d *stubDisplay) ImageURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

func (d *stubDisplay) refreshCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refreshes
}

type stubCheckins struct {
	mu   sync.Mutex
	recs []telemetry.Checkin
}

func (c *stubCheckins) RecordCheckin(_ context.Context, rec telemetry.Checkin) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
	return nil
}

func (c *stubCheckins) all() []telemetry.Checkin {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]telemetry.Checkin(nil), c.recs...)
}

type serverFixture struct {
	srv      *Server
	display  *stubDisplay
	checkins *stubCheckins
	settings *settings.Store
	ts       *httptest.Server
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	f := &serverFixture{
		display:  &stubDisplay{url: "http://192.168.1.10:8000/image.png"},
		checkins: &stubCheckins{},
	}
	f.settings = settings.New(filepath.Join(t.TempDir(), "settings.json"), 30*time.Minute, zap.NewNop())
	f.srv = New(Config{}, f.display, f.settings,
		sched.Window{Start: 22*60 + 30, Wake: 6*60 + 30}, f.checkins, zap.NewNop())
	// Noon, well outside the night window.
	f.srv.now = func() time.Time {
		return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	}
	f.ts = httptest.NewServer(f.srv)
	t.Cleanup(f.ts.Close)
	return f
}

func (f *serverFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial %s: %v", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("failed to send %q: %v", msg, err)
	}
}

func readReply(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read reply: %v", err)
	}
	return string(data)
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected no reply, got %q", data)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestServer_CheckinWithoutImage(t *testing.T) {
	f := newServerFixture(t)
	conn := f.dial(t)

	send(t, conn, "checkForImage")
	if got, want := readReply(t, conn), "no_update|duration:30"; got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
	if f.display.refreshCount() != 1 {
		t.Errorf("refreshes = %d, want 1", f.display.refreshCount())
	}

	waitFor(t, func() bool { return len(f.checkins.all()) == 1 }, "check-in never recorded")
	rec := f.checkins.all()[0]
	if rec.Updated {
		t.Error("recorded Updated = true, want false")
	}
	if rec.SleepMinutes != 30 {
		t.Errorf("recorded SleepMinutes = %d, want 30", rec.SleepMinutes)
	}
	if rec.Mode != "static" {
		t.Errorf("recorded Mode = %q, want %q", rec.Mode, "static")
	}
}

func TestServer_CheckinWithImage(t *testing.T) {
	f := newServerFixture(t)
	f.display.ready = true
	conn := f.dial(t)

	send(t, conn, "checkForImage|battery:84")
	want := "update:http://192.168.1.10:8000/image.png|duration:30"
	if got := readReply(t, conn); got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
	if got := f.settings.Battery(); got != 84 {
		t.Errorf("battery = %d, want 84", got)
	}

	waitFor(t, func() bool { return len(f.checkins.all()) == 1 }, "check-in never recorded")
	rec := f.checkins.all()[0]
	if !rec.Updated {
		t.Error("recorded Updated = false, want true")
	}
	if rec.Battery != 84 {
		t.Errorf("recorded Battery = %d, want 84", rec.Battery)
	}
}

func TestServer_BatteryPersistsWithoutCheckin(t *testing.T) {
	f := newServerFixture(t)
	conn := f.dial(t)

	send(t, conn, "status|battery:55")
	waitFor(t, func() bool { return f.settings.Battery() == 55 }, "battery never persisted")
	expectSilence(t, conn)

	if f.display.refreshCount() != 0 {
		t.Errorf("refreshes = %d, want 0 for unknown command", f.display.refreshCount())
	}
	if len(f.checkins.all()) != 0 {
		t.Error("unknown command should not be recorded as a check-in")
	}
}

func TestServer_MalformedBatteryIgnored(t *testing.T) {
	f := newServerFixture(t)
	if err := f.settings.SetBattery(42); err != nil {
		t.Fatalf("SetBattery() error = %v", err)
	}
	conn := f.dial(t)

	send(t, conn, "checkForImage|battery:low")
	if got, want := readReply(t, conn), "no_update|duration:30"; got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
	if got := f.settings.Battery(); got != 42 {
		t.Errorf("battery = %d, want unchanged 42", got)
	}
}

func TestServer_RefreshFailureStillReplies(t *testing.T) {
	f := newServerFixture(t)
	f.display.ready = true
	f.display.refreshErr = errors.New("feed down")
	conn := f.dial(t)

	send(t, conn, "checkForImage")
	want := "update:http://192.168.1.10:8000/image.png|duration:30"
	if got := readReply(t, conn); got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
}

func TestServer_NightDuration(t *testing.T) {
	f := newServerFixture(t)
	// 23:00, thirty minutes into the night window. 450 minutes to 06:30
	// plus the one-minute margin.
	f.srv.now = func() time.Time {
		return time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC)
	}
	conn := f.dial(t)

	send(t, conn, "checkForImage")
	if got, want := readReply(t, conn), "no_update|duration:451"; got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
}

func TestServer_CloseDropsConnections(t *testing.T) {
	f := newServerFixture(t)
	conn := f.dial(t)

	send(t, conn, "checkForImage")
	readReply(t, conn)

	f.srv.closeConns()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection still readable after close")
	}

	// New connections upgrade but are dropped immediately.
	late := f.dial(t)
	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := late.ReadMessage(); err == nil {
		t.Error("post-close connection was not dropped")
	}
}

func TestParseMessage(t *testing.T) {
	tests := []struct {
		msg         string
		wantCmd     string
		wantBattery int
		wantOK      bool
	}{
		{"checkForImage", "checkForImage", 0, false},
		{"checkForImage|battery:85", "checkForImage", 85, true},
		{"checkForImage|battery:", "checkForImage", 0, false},
		{"checkForImage|battery:low", "checkForImage", 0, false},
		{"battery:77", "battery:77", 0, false},
		{"status|extra:1|battery:12", "status", 12, true},
		{"checkForImage|battery:10|battery:20", "checkForImage", 20, true},
		{"", "", 0, false},
		{"|battery:5", "", 5, true},
	}
	for _, tt := range tests {
		cmd, battery, ok := parseMessage(tt.msg)
		if cmd != tt.wantCmd || battery != tt.wantBattery || ok != tt.wantOK {
			t.Errorf("parseMessage(%q) = (%q, %d, %v), want (%q, %d, %v)",
				tt.msg, cmd, battery, ok, tt.wantCmd, tt.wantBattery, tt.wantOK)
		}
	}
}
