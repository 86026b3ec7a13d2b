package xkcd

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"inkframe/internal/eink"
)

func newTestPreloader(t *testing.T) *Preloader {
	t.Helper()
	_, c := newAPIServer(t, 3)
	path := filepath.Join(t.TempDir(), "xkcd_next.png")
	return NewPreloader(c, eink.NewProcessor(540, 960, 16), path, zap.NewNop())
}

func TestPreloader_StartsNotReady(t *testing.T) {
	p := newTestPreloader(t)

	if p.Ready() {
		t.Error("fresh preloader should not be ready")
	}
	if _, err := p.Take(); !errors.Is(err, ErrNotReady) {
		t.Errorf("Take err=%v, want ErrNotReady", err)
	}
}

func TestPreloader_PreloadThenTake(t *testing.T) {
	p := newTestPreloader(t)

	if err := p.Preload(context.Background()); err != nil {
		t.Fatalf("Preload: %v", err)
	}
	if !p.Ready() {
		t.Fatal("preloader should be ready after Preload")
	}

	data, err := p.Take()
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("staged comic is not a PNG: %v", err)
	}
	if got := img.Bounds(); got.Dx() != 540 || got.Dy() != 960 {
		t.Errorf("staged comic is %dx%d, want 540x960", got.Dx(), got.Dy())
	}

	// Taking consumes the staged state.
	if p.Ready() {
		t.Error("preloader should not be ready after Take")
	}
	if _, err := p.Take(); !errors.Is(err, ErrNotReady) {
		t.Errorf("second Take err=%v, want ErrNotReady", err)
	}
}

func TestPreloader_StartPreload(t *testing.T) {
	p := newTestPreloader(t)

	p.StartPreload(context.Background())

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if p.Ready() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("background preload never became ready")
}

func TestPreloader_PreloadFailureLeavesNotReady(t *testing.T) {
	c := NewClient(zap.NewNop())
	c.BaseURL = "http://127.0.0.1:0" // nothing listens here
	path := filepath.Join(t.TempDir(), "xkcd_next.png")
	p := NewPreloader(c, eink.NewProcessor(540, 960, 16), path, zap.NewNop())

	if err := p.Preload(context.Background()); err == nil {
		t.Error("expected preload failure")
	}
	if p.Ready() {
		t.Error("failed preload must not mark ready")
	}
}

func TestPreloader_Fetch(t *testing.T) {
	p := newTestPreloader(t)

	data, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("fetched comic is not a PNG: %v", err)
	}
	if got := img.Bounds(); got.Dx() != 540 || got.Dy() != 960 {
		t.Errorf("fetched comic is %dx%d, want 540x960", got.Dx(), got.Dy())
	}
	// Direct fetch must not touch the staging state.
	if p.Ready() {
		t.Error("Fetch should not mark the preloader ready")
	}
}
