package xkcd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"inkframe/internal/eink"
)

// ErrNotReady is returned by Take when no preloaded comic is staged.
var ErrNotReady = errors.New("no preloaded comic ready")

// Preloader stages the next comic on disk, already panel-processed, so a
// device check-in in comic mode is served without waiting on the network.
type Preloader struct {
	client    *Client
	processor *eink.Processor
	path      string
	logger    *zap.Logger

	mu       sync.Mutex
	ready    bool
	inFlight bool
}

// NewPreloader stages comics at path. Ready always starts false: a staged
// file from a previous run is refetched rather than trusted.
func NewPreloader(client *Client, processor *eink.Processor, path string, logger *zap.Logger) *Preloader {
	return &Preloader{
		client:    client,
		processor: processor,
		path:      path,
		logger:    logger,
	}
}

// Ready reports whether a staged comic is waiting.
func (p *Preloader) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// Take consumes the staged comic and returns its processed PNG bytes. The
// staging file is left on disk but no longer counts as ready.
func (p *Preloader) Take() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return nil, ErrNotReady
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		p.ready = false
		return nil, fmt.Errorf("failed to read preloaded comic: %w", err)
	}
	p.ready = false
	return data, nil
}

// Preload fetches and stages a comic synchronously.
func (p *Preloader) Preload(ctx context.Context) error {
	_, data, err := p.client.Random(ctx)
	if err != nil {
		return err
	}
	processed, err := p.processor.Process(data)
	if err != nil {
		return fmt.Errorf("failed to process comic: %w", err)
	}
	if err := eink.WriteFileAtomic(p.path, processed); err != nil {
		return err
	}

	p.mu.Lock()
	p.ready = true
	p.mu.Unlock()
	p.logger.Info("preloaded next comic", zap.String("path", p.path))
	return nil
}

// StartPreload kicks off a background Preload. At most one runs at a time;
// extra calls while one is in flight are dropped.
func (p *Preloader) StartPreload(ctx context.Context) {
	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		return
	}
	p.inFlight = true
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			p.inFlight = false
			p.mu.Unlock()
		}()
		if err := p.Preload(ctx); err != nil {
			p.logger.Warn("background comic preload failed", zap.Error(err))
		}
	}()
}

// Fetch fetches and processes a comic directly, bypassing the staging file.
// Used when a check-in needs a comic and nothing is staged.
func (p *Preloader) Fetch(ctx context.Context) ([]byte, error) {
	_, data, err := p.client.Random(ctx)
	if err != nil {
		return nil, err
	}
	processed, err := p.processor.Process(data)
	if err != nil {
		return nil, fmt.Errorf("failed to process comic: %w", err)
	}
	return processed, nil
}
