// Package friends serves random quote cards from the operator-mounted
// quotes file.
package friends

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrNoQuotes is returned when the quotes file is missing, unreadable or
// holds an empty quote list.
var ErrNoQuotes = errors.New("no quotes available")

// Line is one dialogue line of a quote.
type Line struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Format renders the line the way the card shows it.
func (l Line) Format() string {
	speaker := l.Speaker
	if speaker == "" {
		speaker = "Unknown"
	}
	return speaker + " - " + l.Text
}

// Quote is one quotable scene.
type Quote struct {
	Season       json.Number `json:"season"`
	Episode      json.Number `json:"episode"`
	EpisodeTitle string      `json:"episode_title"`
	Dialogue     []Line      `json:"dialogue"`
}

// Footer renders the episode attribution line.
func (q Quote) Footer() string {
	season := q.Season.String()
	if season == "" {
		season = "?"
	}
	episode := q.Episode.String()
	if episode == "" {
		episode = "?"
	}
	title := q.EpisodeTitle
	if title == "" {
		title = "Untitled"
	}
	return fmt.Sprintf("Season %s - Episode %s: %s", season, episode, title)
}

type quotesFile struct {
	Quotes []Quote `json:"quotes"`
}

// Library caches the parsed quotes file and keeps the cache current while the
// mounted file is replaced underneath it.
type Library struct {
	path   string
	logger *zap.Logger

	mu     sync.RWMutex
	quotes []Quote

	watcher     *fsnotify.Watcher
	debounceMu  sync.Mutex
	pendingAt   time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewLibrary loads the quotes file at path. A missing or invalid file is
// logged and leaves the library empty; Random then fails with ErrNoQuotes
// until a valid file shows up.
func NewLibrary(path string, logger *zap.Logger) *Library {
	l := &Library{
		path:        path,
		logger:      logger,
		debounceDur: 500 * time.Millisecond,
	}
	if err := l.Reload(); err != nil {
		logger.Warn("quotes file not loaded", zap.String("path", path), zap.Error(err))
	}
	return l
}

// Reload re-reads the quotes file, replacing the cache on success. On failure
// the previous cache is kept.
func (l *Library) Reload() error {
	quotes, err := loadQuotes(l.path)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.quotes = quotes
	l.mu.Unlock()
	l.logger.Info("loaded quotes", zap.String("path", l.path), zap.Int("count", len(quotes)))
	return nil
}

func loadQuotes(path string) ([]Quote, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read quotes file: %w", err)
	}
	var qf quotesFile
	if err := json.Unmarshal(data, &qf); err != nil {
		return nil, fmt.Errorf("failed to parse quotes file: %w", err)
	}
	if len(qf.Quotes) == 0 {
		return nil, ErrNoQuotes
	}
	return qf.Quotes, nil
}

// Count returns the number of cached quotes.
func (l *Library) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.quotes)
}

// Random returns a uniformly chosen quote.
func (l *Library) Random() (Quote, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.quotes) == 0 {
		return Quote{}, ErrNoQuotes
	}
	return l.quotes[rand.Intn(len(l.quotes))], nil
}

// Watch starts reloading the quotes file when it changes on disk. The parent
// directory is watched rather than the file itself: volume-mounted files are
// replaced by rename, which would silently detach a file watch.
func (l *Library) Watch(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		l.mu.Unlock()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	// Channels are per-start; a Watch after Stop must not inherit closed ones.
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	l.watcher = watcher
	l.stopCh = stopCh
	l.doneCh = doneCh
	l.running = true
	l.mu.Unlock()

	l.logger.Info("watching quotes file", zap.String("dir", dir), zap.String("file", filepath.Base(l.path)))
	go l.run(ctx, watcher, stopCh, doneCh)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit. The library can
// be watched again afterwards.
func (l *Library) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	stopCh, doneCh, watcher := l.stopCh, l.doneCh, l.watcher
	l.mu.Unlock()

	close(stopCh)
	<-doneCh
	if err := watcher.Close(); err != nil {
		l.logger.Warn("error closing quotes watcher", zap.Error(err))
	}
}

func (l *Library) run(ctx context.Context, watcher *fsnotify.Watcher, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			l.handleEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("quotes watcher error", zap.Error(err))
		case <-debounceTicker.C:
			l.reloadIfPending()
		}
	}
}

func (l *Library) handleEvent(event fsnotify.Event) {
	if filepath.Base(event.Name) != filepath.Base(l.path) {
		return
	}
	switch {
	case event.Op&fsnotify.Create != 0,
		event.Op&fsnotify.Write != 0,
		event.Op&fsnotify.Rename != 0:
	default:
		// Chmod and Remove leave the cache as it is.
		return
	}

	l.debounceMu.Lock()
	l.pendingAt = time.Now()
	l.debounceMu.Unlock()
}

func (l *Library) reloadIfPending() {
	l.debounceMu.Lock()
	pending := !l.pendingAt.IsZero() && time.Since(l.pendingAt) >= l.debounceDur
	if pending {
		l.pendingAt = time.Time{}
	}
	l.debounceMu.Unlock()
	if !pending {
		return
	}

	if err := l.Reload(); err != nil {
		l.logger.Warn("quotes reload failed, keeping previous quotes", zap.Error(err))
	}
}
