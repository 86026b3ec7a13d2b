package friends

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

const sampleQuotes = `{
  "quotes": [
    {
      "season": 3,
      "episode": 9,
      "episode_title": "The One With The Football",
      "dialogue": [
        {"speaker": "Ross", "text": "Check it out, the Geller Cup."},
        {"speaker": "Monica", "text": "It is a symbol of excellence."}
      ]
    },
    {
      "season": 5,
      "episode": 14,
      "episode_title": "The One Where Everybody Finds Out",
      "dialogue": [
        {"speaker": "Phoebe", "text": "They don't know that we know they know we know."}
      ]
    }
  ]
}`

func writeQuotesFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "friends.json")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewLibrary_LoadsQuotes(t *testing.T) {
	path := writeQuotesFile(t, t.TempDir(), sampleQuotes)
	l := NewLibrary(path, zap.NewNop())

	if got := l.Count(); got != 2 {
		t.Errorf("Count=%d, want 2", got)
	}
	q, err := l.Random()
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	if len(q.Dialogue) == 0 {
		t.Error("picked quote has no dialogue")
	}
}

func TestNewLibrary_MissingFile(t *testing.T) {
	l := NewLibrary(filepath.Join(t.TempDir(), "friends.json"), zap.NewNop())

	if got := l.Count(); got != 0 {
		t.Errorf("Count=%d, want 0", got)
	}
	if _, err := l.Random(); !errors.Is(err, ErrNoQuotes) {
		t.Errorf("Random err=%v, want ErrNoQuotes", err)
	}
}

func TestNewLibrary_EmptyQuotes(t *testing.T) {
	path := writeQuotesFile(t, t.TempDir(), `{"quotes": []}`)
	l := NewLibrary(path, zap.NewNop())

	if _, err := l.Random(); !errors.Is(err, ErrNoQuotes) {
		t.Errorf("Random err=%v, want ErrNoQuotes", err)
	}
}

func TestReload_CorruptFileKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := writeQuotesFile(t, dir, sampleQuotes)
	l := NewLibrary(path, zap.NewNop())

	if err := os.WriteFile(path, []byte("{broken"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := l.Reload(); err == nil {
		t.Error("expected reload error for corrupt file")
	}
	if got := l.Count(); got != 2 {
		t.Errorf("Count=%d after failed reload, want 2", got)
	}
}

func TestLine_Format(t *testing.T) {
	if got := (Line{Speaker: "Joey", Text: "How you doin'?"}).Format(); got != "Joey - How you doin'?" {
		t.Errorf("Format=%q", got)
	}
	if got := (Line{Text: "hi"}).Format(); got != "Unknown - hi" {
		t.Errorf("Format=%q, want Unknown fallback", got)
	}
}

func TestQuote_Footer(t *testing.T) {
	q := Quote{Season: "3", Episode: "9", EpisodeTitle: "The One With The Football"}
	if got := q.Footer(); got != "Season 3 - Episode 9: The One With The Football" {
		t.Errorf("Footer=%q", got)
	}

	empty := Quote{}
	if got := empty.Footer(); got != "Season ? - Episode ?: Untitled" {
		t.Errorf("Footer=%q", got)
	}
}

func TestWatch_ReloadsOnRewrite(t *testing.T) {
	dir := t.TempDir()
	path := writeQuotesFile(t, dir, sampleQuotes)
	l := NewLibrary(path, zap.NewNop())
	l.debounceDur = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := l.Watch(ctx); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer l.Stop()

	// Replace the file the way a volume remount does: write-then-rename.
	tmp := filepath.Join(dir, "friends.json.tmp")
	single := `{"quotes": [{"season": 1, "episode": 1, "episode_title": "Pilot",
		"dialogue": [{"speaker": "Monica", "text": "Welcome to the real world."}]}]}`
	if err := os.WriteFile(tmp, []byte(single), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if l.Count() == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("quotes not reloaded after rewrite, Count=%d", l.Count())
}

func TestWatch_RestartsAfterStop(t *testing.T) {
	dir := t.TempDir()
	path := writeQuotesFile(t, dir, sampleQuotes)
	l := NewLibrary(path, zap.NewNop())
	l.debounceDur = 50 * time.Millisecond

	ctx := context.Background()
	if err := l.Watch(ctx); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	l.Stop()

	// The second watch must come up with its own channels and keep reloading.
	if err := l.Watch(ctx); err != nil {
		t.Fatalf("second Watch: %v", err)
	}
	defer l.Stop()

	tmp := filepath.Join(dir, "friends.json.tmp")
	single := `{"quotes": [{"season": 2, "episode": 7, "episode_title": "The One Where Ross Finds Out",
		"dialogue": [{"speaker": "Rachel", "text": "And that, my friend, is what they call closure."}]}]}`
	if err := os.WriteFile(tmp, []byte(single), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if l.Count() == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("quotes not reloaded after watch restart, Count=%d", l.Count())
}
