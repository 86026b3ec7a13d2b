package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"inkframe/internal/config"
)

// version is stamped by the build.
var version = "dev"

var (
	// Global flags
	cfgFile string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "inkframe",
	Short: "inkframe - Telegram-driven e-ink picture frame server",
	Long: `inkframe drives an e-ink picture frame from Telegram.

Photos and text messages sent to the bot are rendered into panel-ready
grayscale images. The frame's firmware checks in over WebSocket to learn
when a new image is up and how long to sleep, and fetches the image
itself over plain HTTP. Feed modes keep the frame fresh on its own:
a Friends quote card or a random XKCD comic on every device wake.

Run 'inkframe serve' to start the server.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger, err = buildLogger(cfg.Logging, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the inkframe version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("inkframe " + version)
	},
}

func buildLogger(lc config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if lc.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}

	level := lc.Level
	if verbose {
		level = "debug"
	}
	switch level {
	case "debug":
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "info", "":
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	case "warn":
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return zcfg.Build()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "inkframe.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
