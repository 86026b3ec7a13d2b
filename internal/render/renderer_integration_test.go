//go:build integration

package render_test

import (
	"bytes"
	"context"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inkframe/internal/render"
)

// Needs a Chromium the rod launcher can find. Run with:
//
//	go test -tags integration ./internal/render/
func TestRenderer_RenderText_Integration(t *testing.T) {
	r := render.New(render.Config{
		Headless: true,
		Width:    540,
		FontSize: 28,
		Timeout:  20 * time.Second,
	}, zap.NewNop())
	defer func() {
		require.NoError(t, r.Shutdown())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	data, err := r.RenderText(ctx, "Hello panel\nsecond line")
	require.NoError(t, err)
	require.NotEmpty(t, data)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	// 20px padding on each side means the container is always narrower
	// than the viewport but wider than the padding alone.
	require.Greater(t, img.Bounds().Dx(), 40)
	require.LessOrEqual(t, img.Bounds().Dx(), 540)
}

func TestRenderer_MissingContainer_Integration(t *testing.T) {
	r := render.New(render.Config{
		Headless: true,
		Width:    540,
		Timeout:  10 * time.Second,
	}, zap.NewNop())
	defer func() {
		require.NoError(t, r.Shutdown())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := r.RenderHTML(ctx, "<html><body><p>nothing here</p></body></html>", 540)
	require.ErrorIs(t, err, render.ErrNoContainer)
}

func TestRenderer_BrowserReuse_Integration(t *testing.T) {
	r := render.New(render.Config{
		Headless: true,
		Width:    540,
		Timeout:  20 * time.Second,
	}, zap.NewNop())
	defer func() {
		require.NoError(t, r.Shutdown())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		data, err := r.RenderText(ctx, "render cycle")
		require.NoError(t, err)
		require.NotEmpty(t, data)
	}
}
