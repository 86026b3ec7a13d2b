// Package render turns text and HTML into PNG image bytes by screenshotting
// a headless Chromium controlled over the DevTools protocol.
package render

import (
	"context"
	"errors"
	"fmt"
	"html"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// ErrNoContainer is returned when the rendered document has no #container
// element to screenshot.
var ErrNoContainer = errors.New("no #container element in rendered document")

// Config holds renderer configuration.
type Config struct {
	// BrowserBin overrides the Chromium binary; empty lets the launcher
	// find one.
	BrowserBin string
	Headless   bool

	// Width is the viewport width text renders at, normally the panel width.
	Width int

	FontPath      string
	EmojiFontPath string
	FontSize      int

	Timeout time.Duration
}

// Renderer owns one lazily launched browser shared by all renders. The
// browser is health-checked before reuse and relaunched when the connection
// has gone stale.
type Renderer struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	browser *rod.Browser
}

// New creates a renderer. The browser is not launched until the first render.
func New(cfg Config, logger *zap.Logger) *Renderer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.FontSize <= 0 {
		cfg.FontSize = 28
	}
	return &Renderer{cfg: cfg, logger: logger}
}

// RenderText renders plain text the way the frame shows messages: the text is
// HTML-escaped, wrapped in the standard page template and screenshotted.
// Newlines in the text are preserved.
func (r *Renderer) RenderText(ctx context.Context, text string) ([]byte, error) {
	width := r.cfg.Width
	if width <= 0 {
		width = 540
	}
	return r.RenderHTML(ctx, r.textDocument(text), width)
}

// RenderHTML loads an HTML document in a fresh page at the given viewport
// width and screenshots its #container element as PNG bytes.
func (r *Renderer) RenderHTML(ctx context.Context, doc string, width int) ([]byte, error) {
	browser, err := r.ensureBrowser()
	if err != nil {
		return nil, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	defer func() { _ = page.Close() }()

	page = page.Context(ctx).Timeout(r.cfg.Timeout)

	// The viewport width controls where text wraps; the height is
	// arbitrary because only #container is captured.
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            100,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}

	if err := page.SetDocumentContent(doc); err != nil {
		return nil, fmt.Errorf("failed to set page content: %w", err)
	}

	el, err := page.Element("#container")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoContainer, err)
	}

	data, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to screenshot element: %w", err)
	}
	r.logger.Debug("rendered document", zap.Int("png_bytes", len(data)), zap.Int("width", width))
	return data, nil
}

// ensureBrowser returns a healthy browser, launching or relaunching as
// needed.
func (r *Renderer) ensureBrowser() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		if _, err := r.browser.Version(); err == nil {
			return r.browser, nil
		}
		r.logger.Warn("stale browser connection detected, relaunching")
		_ = r.browser.Close()
		r.browser = nil
	}

	l := launcher.New().Headless(r.cfg.Headless)
	if r.cfg.BrowserBin != "" {
		l = l.Bin(r.cfg.BrowserBin)
	}
	// Containers run this as root, where Chromium refuses its sandbox.
	l = l.NoSandbox(true)

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	r.browser = browser
	r.logger.Info("browser launched", zap.Bool("headless", r.cfg.Headless))
	return browser, nil
}

// Shutdown closes the browser if one is running.
func (r *Renderer) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	r.browser = nil
	return err
}

// textDocument wraps escaped text in the standard page: embedded fonts,
// transparent background and a shrink-wrapped #container that preserves the
// message's own line breaks.
func (r *Renderer) textDocument(text string) string {
	var faces strings.Builder
	if r.cfg.FontPath != "" {
		writeFontFace(&faces, "DejaVu Sans", r.cfg.FontPath)
	}
	if r.cfg.EmojiFontPath != "" {
		writeFontFace(&faces, "Noto Color Emoji", r.cfg.EmojiFontPath)
	}
	return fmt.Sprintf(pageTemplate, faces.String(), r.cfg.FontSize, html.EscapeString(text))
}

func writeFontFace(b *strings.Builder, family, path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	fmt.Fprintf(b, "        @font-face {\n            font-family: '%s';\n            src: url('file://%s');\n        }\n", family, abs)
}

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
    <style>
%s        body {
            margin: 0;
            font-family: 'DejaVu Sans', 'Noto Color Emoji', sans-serif;
            font-size: %dpx;
            background-color: transparent;
        }
        #container {
            display: inline-block;
            padding: 20px;
            white-space: pre-wrap;
            word-break: break-word;
        }
    </style>
</head>
<body>
    <div id="container">%s</div>
</body>
</html>`
