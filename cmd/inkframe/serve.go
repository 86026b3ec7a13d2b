package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"inkframe/internal/config"
	"inkframe/internal/device"
	"inkframe/internal/display"
	"inkframe/internal/eink"
	"inkframe/internal/friends"
	"inkframe/internal/httpserver"
	"inkframe/internal/render"
	"inkframe/internal/sched"
	"inkframe/internal/settings"
	"inkframe/internal/telegram"
	"inkframe/internal/telemetry"
	"inkframe/internal/xkcd"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the frame server",
	Long: `Starts all three surfaces: the Telegram bot, the device WebSocket
endpoint, and the HTTP image server. Runs until SIGINT or SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nightStart, err := config.ParseClock(cfg.Night.Start)
	if err != nil {
		return fmt.Errorf("invalid night.start: %w", err)
	}
	nightWake, err := config.ParseClock(cfg.Night.Wake)
	if err != nil {
		return fmt.Errorf("invalid night.wake: %w", err)
	}
	night := sched.Window{Start: nightStart, Wake: nightWake}

	st := settings.New(cfg.Files.SettingsPath, cfg.GetUpdateInterval(), logger)

	store, err := telemetry.Open(cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	renderer := render.New(render.Config{
		BrowserBin:    cfg.Render.BrowserBin,
		Headless:      cfg.Render.Headless,
		Width:         cfg.Display.Width,
		FontPath:      cfg.Render.FontPath,
		EmojiFontPath: cfg.Render.EmojiFontPath,
		FontSize:      cfg.Render.FontSize,
		Timeout:       cfg.GetRenderTimeout(),
	}, logger)
	defer func() { _ = renderer.Shutdown() }()

	processor := eink.NewProcessor(cfg.Display.Width, cfg.Display.Height, cfg.Display.GrayLevels)

	library := friends.NewLibrary(cfg.Files.QuotesPath, logger)
	if err := library.Watch(ctx); err != nil {
		logger.Warn("quote file watching disabled", zap.Error(err))
	}
	defer library.Stop()
	cards := friends.NewCardRenderer(cfg.Display.Width, cfg.Display.Height, cfg.Render.FontPath, logger)

	comics := xkcd.NewPreloader(xkcd.NewClient(logger), processor, cfg.Display.PreloadPath, logger)

	ctrl := display.New(display.Config{
		ImagePath: cfg.Display.ImagePath,
		ImageURL:  cfg.ImageURL(),
	}, st, renderer, processor, library, cards, comics, logger)

	bot, err := telegram.New(telegram.Config{
		Token:          cfg.Telegram.Token,
		AllowedChatIDs: cfg.Telegram.AllowedChatIDs,
	}, ctrl, st, logger)
	if err != nil {
		return err
	}

	dev := device.New(device.Config{
		Addr:            cfg.WSAddr(),
		ShutdownTimeout: cfg.GetShutdownTimeout(),
	}, ctrl, st, night, store, logger)

	httpSrv := httpserver.New(httpserver.Config{
		Addr:            cfg.HTTPAddr(),
		ReadTimeout:     cfg.GetReadTimeout(),
		WriteTimeout:    cfg.GetWriteTimeout(),
		ShutdownTimeout: cfg.GetShutdownTimeout(),
	}, ctrl, store, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.ListenAndServe(gctx) })
	g.Go(func() error { return dev.ListenAndServe(gctx) })
	g.Go(func() error { return bot.Run(gctx) })

	logger.Info("inkframe up",
		zap.String("http", cfg.HTTPAddr()),
		zap.String("ws", cfg.WSAddr()),
		zap.String("image_url", cfg.ImageURL()),
		zap.String("mode", string(st.Mode())))

	err = g.Wait()
	logger.Info("inkframe stopped")
	return err
}
