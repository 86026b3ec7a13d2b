package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"inkframe/internal/eink"
	"inkframe/internal/friends"
	"inkframe/internal/render"
	"inkframe/internal/xkcd"
)

var renderOut string

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a panel image without starting the server",
	Long: `Runs one rendering pipeline and writes the result to a file.
Useful for checking fonts, layout, and panel geometry before deploying.`,
}

var renderTextCmd = &cobra.Command{
	Use:   "text [message]",
	Short: "Render a text message through the browser pipeline",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRenderText,
}

var renderQuoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Render a random Friends quote card",
	RunE:  runRenderQuote,
}

var renderComicCmd = &cobra.Command{
	Use:   "xkcd",
	Short: "Fetch a random XKCD comic and render it",
	RunE:  runRenderComic,
}

var renderPhotoCmd = &cobra.Command{
	Use:   "photo [file]",
	Short: "Run a photo through the panel pipeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runRenderPhoto,
}

func init() {
	renderCmd.PersistentFlags().StringVarP(&renderOut, "out", "o", "", "Output file (default: display.image_path)")
	renderCmd.AddCommand(renderTextCmd)
	renderCmd.AddCommand(renderQuoteCmd)
	renderCmd.AddCommand(renderComicCmd)
	renderCmd.AddCommand(renderPhotoCmd)
}

func runRenderText(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.GetRenderTimeout())
	defer cancel()

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

	shot, err := renderer.RenderText(ctx, strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("failed to render text: %w", err)
	}
	data, err := newProcessor().Process(shot)
	if err != nil {
		return fmt.Errorf("failed to process screenshot: %w", err)
	}
	return writeOutput(data)
}

func runRenderQuote(cmd *cobra.Command, args []string) error {
	library := friends.NewLibrary(cfg.Files.QuotesPath, logger)
	q, err := library.Random()
	if err != nil {
		return fmt.Errorf("failed to pick quote: %w", err)
	}
	cards := friends.NewCardRenderer(cfg.Display.Width, cfg.Display.Height, cfg.Render.FontPath, logger)
	data, err := cards.Render(q)
	if err != nil {
		return fmt.Errorf("failed to render quote card: %w", err)
	}
	return writeOutput(data)
}

func runRenderComic(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	comics := xkcd.NewPreloader(xkcd.NewClient(logger), newProcessor(), cfg.Display.PreloadPath, logger)
	data, err := comics.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch comic: %w", err)
	}
	return writeOutput(data)
}

func runRenderPhoto(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read photo: %w", err)
	}
	data, err := newProcessor().Process(raw)
	if err != nil {
		return fmt.Errorf("failed to process photo: %w", err)
	}
	return writeOutput(data)
}

func newProcessor() *eink.Processor {
	return eink.NewProcessor(cfg.Display.Width, cfg.Display.Height, cfg.Display.GrayLevels)
}

func writeOutput(data []byte) error {
	out := renderOut
	if out == "" {
		out = cfg.Display.ImagePath
	}
	if err := eink.WriteFileAtomic(out, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	fmt.Printf("Wrote %s (%d bytes)\n", out, len(data))
	return nil
}
