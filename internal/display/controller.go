// Package display decides what the frame shows. Every surface that changes
// or reads the current image goes through the Controller: the Telegram
// handlers push content, the device check-in refreshes feed modes, the HTTP
// server serves the file it maintains.
package display

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"inkframe/internal/eink"
	"inkframe/internal/friends"
	"inkframe/internal/settings"
)

// TextRenderer turns a text message into PNG bytes.
type TextRenderer interface {
	RenderText(ctx context.Context, text string) ([]byte, error)
}

// QuoteSource picks quotes.
type QuoteSource interface {
	Random() (friends.Quote, error)
}

// CardRenderer draws a quote card as portrait PNG bytes.
type CardRenderer interface {
	Render(q friends.Quote) ([]byte, error)
}

// ComicSource stages and fetches panel-processed comics.
type ComicSource interface {
	Ready() bool
	Take() ([]byte, error)
	Preload(ctx context.Context) error
	StartPreload(ctx context.Context)
	Fetch(ctx context.Context) ([]byte, error)
}

// Config holds the controller's file and URL wiring.
type Config struct {
	// ImagePath is where the current panel image lives.
	ImagePath string
	// ImageURL is the device-facing URL of that image.
	ImageURL string
}

// Status is a snapshot for the status surfaces.
type Status struct {
	Mode            settings.Mode `json:"mode"`
	IntervalMinutes int           `json:"interval_minutes"`
	BatteryPercent  int           `json:"battery_percent"`
	ImageReady      bool          `json:"image_ready"`
}

// Controller owns the current panel image.
type Controller struct {
	cfg       Config
	settings  *settings.Store
	renderer  TextRenderer
	processor *eink.Processor
	quotes    QuoteSource
	cards     CardRenderer
	comics    ComicSource
	logger    *zap.Logger

	// writeMu serializes image-file replacement; readers go through the
	// filesystem and always see a complete file thanks to atomic writes.
	writeMu sync.Mutex
}

// New wires a controller.
func New(cfg Config, st *settings.Store, renderer TextRenderer, processor *eink.Processor,
	quotes QuoteSource, cards CardRenderer, comics ComicSource, logger *zap.Logger) *Controller {
	return &Controller{
		cfg:       cfg,
		settings:  st,
		renderer:  renderer,
		processor: processor,
		quotes:    quotes,
		cards:     cards,
		comics:    comics,
		logger:    logger,
	}
}

// SetPhoto leaves any feed mode, runs the photo through the panel pipeline
// and makes it the current image.
func (c *Controller) SetPhoto(ctx context.Context, raw []byte) error {
	if err := c.settings.SetMode(settings.ModeStatic); err != nil {
		c.logger.Warn("failed to persist mode change", zap.Error(err))
	}
	data, err := c.processor.Process(raw)
	if err != nil {
		return fmt.Errorf("failed to process photo: %w", err)
	}
	return c.writeImage(data)
}

// SetText leaves any feed mode, renders the text in the browser and runs the
// screenshot through the panel pipeline.
func (c *Controller) SetText(ctx context.Context, text string) error {
	if err := c.settings.SetMode(settings.ModeStatic); err != nil {
		c.logger.Warn("failed to persist mode change", zap.Error(err))
	}
	shot, err := c.renderer.RenderText(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to render text: %w", err)
	}
	data, err := c.processor.Process(shot)
	if err != nil {
		return fmt.Errorf("failed to process rendered text: %w", err)
	}
	return c.writeImage(data)
}

// ShowFriends switches to the quote feed and puts a fresh quote card up now.
func (c *Controller) ShowFriends(ctx context.Context) error {
	if err := c.settings.SetMode(settings.ModeFriends); err != nil {
		c.logger.Warn("failed to persist mode change", zap.Error(err))
	}
	return c.renderQuote()
}

// ShowXKCD switches to the comic feed and puts a comic up now, staging one
// synchronously when none is preloaded. The next comic starts preloading in
// the background.
func (c *Controller) ShowXKCD(ctx context.Context) error {
	if err := c.settings.SetMode(settings.ModeXKCD); err != nil {
		c.logger.Warn("failed to persist mode change", zap.Error(err))
	}
	if !c.comics.Ready() {
		if err := c.comics.Preload(ctx); err != nil {
			return fmt.Errorf("failed to preload comic: %w", err)
		}
	}
	data, err := c.comics.Take()
	if err != nil {
		return fmt.Errorf("failed to use preloaded comic: %w", err)
	}
	if err := c.writeImage(data); err != nil {
		return err
	}
	// Detach from the request: the next comic keeps loading after the
	// handler returns.
	c.comics.StartPreload(context.WithoutCancel(ctx))
	return nil
}

// Refresh is the device check-in hook. Feed modes produce fresh content;
// static mode leaves the image alone. A feed failure keeps the previous
// image in place.
func (c *Controller) Refresh(ctx context.Context) error {
	switch c.settings.Mode() {
	case settings.ModeFriends:
		return c.renderQuote()
	case settings.ModeXKCD:
		return c.refreshComic(ctx)
	default:
		return nil
	}
}

func (c *Controller) renderQuote() error {
	q, err := c.quotes.Random()
	if err != nil {
		return fmt.Errorf("failed to pick quote: %w", err)
	}
	data, err := c.cards.Render(q)
	if err != nil {
		return fmt.Errorf("failed to render quote card: %w", err)
	}
	return c.writeImage(data)
}

func (c *Controller) refreshComic(ctx context.Context) error {
	if c.comics.Ready() {
		data, err := c.comics.Take()
		if err == nil {
			if err := c.writeImage(data); err != nil {
				return err
			}
			c.comics.StartPreload(context.WithoutCancel(ctx))
			return nil
		}
		c.logger.Warn("staged comic unusable, fetching directly", zap.Error(err))
	}
	data, err := c.comics.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch comic: %w", err)
	}
	return c.writeImage(data)
}

// ImageReady reports whether a panel image has ever been produced.
func (c *Controller) ImageReady() bool {
	_, err := os.Stat(c.cfg.ImagePath)
	return err == nil
}

// ImagePath returns the path of the current panel image.
func (c *Controller) ImagePath() string {
	return c.cfg.ImagePath
}

// ImageURL returns the device-facing URL of the current panel image.
func (c *Controller) ImageURL() string {
	return c.cfg.ImageURL
}

// Status snapshots the runtime state for the status surfaces.
func (c *Controller) Status() Status {
	snap := c.settings.Snapshot()
	return Status{
		Mode:            snap.Mode,
		IntervalMinutes: snap.IntervalMinutes,
		BatteryPercent:  snap.BatteryPercent,
		ImageReady:      c.ImageReady(),
	}
}

func (c *Controller) writeImage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := eink.WriteFileAtomic(c.cfg.ImagePath, data); err != nil {
		return fmt.Errorf("failed to write panel image: %w", err)
	}
	c.logger.Info("panel image updated", zap.String("path", c.cfg.ImagePath), zap.Int("bytes", len(data)))
	return nil
}
