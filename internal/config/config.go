// Package config holds the static inkframe configuration.
// Runtime-mutable state (modes, interval, battery) lives in internal/settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all inkframe configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Telegram TelegramConfig `yaml:"telegram"`
	Display  DisplayConfig  `yaml:"display"`
	Night    NightConfig    `yaml:"night"`
	Render   RenderConfig   `yaml:"render"`
	Files    FilesConfig    `yaml:"files"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the two listeners and the URL handed to the device.
type ServerConfig struct {
	Bind     string `yaml:"bind"`
	HTTPPort int    `yaml:"http_port"`
	WSPort   int    `yaml:"ws_port"`

	// PublicHost is the host the device can reach this server on. It is
	// baked into the image URL sent over the WebSocket, so it must be the
	// externally visible address, not the bind address.
	PublicHost string `yaml:"public_host"`

	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// TelegramConfig configures the operator bot.
type TelegramConfig struct {
	Token string `yaml:"token"`

	// AllowedChatIDs is the whitelist. /chatid still answers anyone so a
	// new user can find the ID to add here.
	AllowedChatIDs []int64 `yaml:"allowed_chat_ids"`
}

// DisplayConfig describes the target panel and the served image files.
type DisplayConfig struct {
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	GrayLevels int    `yaml:"gray_levels"`
	ImagePath  string `yaml:"image_path"`

	// PreloadPath is where the next XKCD comic is staged.
	PreloadPath string `yaml:"preload_path"`

	// UpdateInterval seeds settings.json when it does not exist yet.
	UpdateInterval string `yaml:"update_interval"`
}

// NightConfig is the quiet window during which the device sleeps until morning.
type NightConfig struct {
	Start string `yaml:"start"` // "22:30"
	Wake  string `yaml:"wake"`  // "06:30"
}

// RenderConfig configures the headless-browser text renderer.
type RenderConfig struct {
	FontPath      string `yaml:"font_path"`
	EmojiFontPath string `yaml:"emoji_font_path"`
	FontSize      int    `yaml:"font_size"`

	// BrowserBin overrides the Chromium binary; empty lets the launcher
	// find or download one.
	BrowserBin string `yaml:"browser_bin"`
	Headless   bool   `yaml:"headless"`
	Timeout    string `yaml:"timeout"`
}

// FilesConfig points at the two runtime-mounted JSON files.
type FilesConfig struct {
	SettingsPath string `yaml:"settings_path"`
	QuotesPath   string `yaml:"quotes_path"`
}

// DatabaseConfig configures the device check-in log.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Bind:            "0.0.0.0",
			HTTPPort:        8000,
			WSPort:          8765,
			ReadTimeout:     "15s",
			WriteTimeout:    "15s",
			ShutdownTimeout: "10s",
		},
		Telegram: TelegramConfig{},
		Display: DisplayConfig{
			Width:          540,
			Height:         960,
			GrayLevels:     16,
			ImagePath:      "image.png",
			PreloadPath:    "xkcd_next.png",
			UpdateInterval: "30m",
		},
		Night: NightConfig{
			Start: "22:30",
			Wake:  "06:30",
		},
		Render: RenderConfig{
			FontPath:      "DejaVuSans.ttf",
			EmojiFontPath: "NotoColorEmoji-Regular.ttf",
			FontSize:      28,
			Headless:      true,
			Timeout:       "30s",
		},
		Files: FilesConfig{
			SettingsPath: "settings.json",
			QuotesPath:   "friends.json",
		},
		Database: DatabaseConfig{
			Path: "data/inkframe.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides are applied either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides. The variable
// names match what the container deployment already sets.
func (c *Config) applyEnvOverrides() {
	if token := os.Getenv("TELEGRAM_TOKEN"); token != "" {
		c.Telegram.Token = token
	}
	if host := os.Getenv("SERVER_IP"); host != "" {
		c.Server.PublicHost = host
	}
	if path := os.Getenv("INKFRAME_DB"); path != "" {
		c.Database.Path = path
	}
	if ids := os.Getenv("ALLOWED_CHAT_IDS"); ids != "" {
		parsed := parseChatIDs(ids)
		if len(parsed) > 0 {
			c.Telegram.AllowedChatIDs = parsed
		}
	}
}

func parseChatIDs(s string) []int64 {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram token not configured (set TELEGRAM_TOKEN or telegram.token)")
	}
	if c.Server.PublicHost == "" {
		return fmt.Errorf("public host not configured (set SERVER_IP or server.public_host)")
	}
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}
	if c.Server.WSPort <= 0 || c.Server.WSPort > 65535 {
		return fmt.Errorf("invalid ws_port: %d", c.Server.WSPort)
	}
	if c.Server.WSPort == c.Server.HTTPPort {
		return fmt.Errorf("http_port and ws_port must differ (both %d)", c.Server.HTTPPort)
	}
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		return fmt.Errorf("invalid display dimensions: %dx%d", c.Display.Width, c.Display.Height)
	}
	if c.Display.GrayLevels < 2 || c.Display.GrayLevels > 256 {
		return fmt.Errorf("gray_levels must be in [2,256], got %d", c.Display.GrayLevels)
	}
	if _, err := ParseClock(c.Night.Start); err != nil {
		return fmt.Errorf("invalid night.start: %w", err)
	}
	if _, err := ParseClock(c.Night.Wake); err != nil {
		return fmt.Errorf("invalid night.wake: %w", err)
	}
	return nil
}

// ParseClock parses an "HH:MM" wall-clock string into minutes since midnight.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return h*60 + m, nil
}

// GetReadTimeout returns the HTTP read timeout as a duration.
func (c *Config) GetReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 15*time.Second)
}

// GetWriteTimeout returns the HTTP write timeout as a duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return parseDuration(c.Server.WriteTimeout, 15*time.Second)
}

// GetShutdownTimeout returns the graceful shutdown budget as a duration.
func (c *Config) GetShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 10*time.Second)
}

// GetRenderTimeout returns the browser render timeout as a duration.
func (c *Config) GetRenderTimeout() time.Duration {
	return parseDuration(c.Render.Timeout, 30*time.Second)
}

// GetUpdateInterval returns the seed update interval as a duration.
func (c *Config) GetUpdateInterval() time.Duration {
	return parseDuration(c.Display.UpdateInterval, 30*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// HTTPAddr returns the bind address of the image server.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.HTTPPort)
}

// WSAddr returns the bind address of the device WebSocket server.
func (c *Config) WSAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.WSPort)
}

// ImageURL returns the device-facing URL of the current panel image.
func (c *Config) ImageURL() string {
	return fmt.Sprintf("http://%s:%d/%s", c.Server.PublicHost, c.Server.HTTPPort, filepath.Base(c.Display.ImagePath))
}

// IsAllowedChat reports whether a Telegram chat ID is whitelisted.
func (c *Config) IsAllowedChat(id int64) bool {
	for _, allowed := range c.Telegram.AllowedChatIDs {
		if allowed == id {
			return true
		}
	}
	return false
}
