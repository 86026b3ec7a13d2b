// Package telegram is the operator surface: a long-polling bot that pushes
// photos and text to the frame, flips feed modes, and answers status queries.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"inkframe/internal/display"
	"inkframe/internal/settings"
)

// maxPhotoBytes caps photo downloads at the Bot API's own file limit.
const maxPhotoBytes = 20 << 20

// Display is the slice of the display controller the bot drives.
type Display interface {
	SetPhoto(ctx context.Context, raw []byte) error
	SetText(ctx context.Context, text string) error
	ShowFriends(ctx context.Context) error
	ShowXKCD(ctx context.Context) error
	Status() display.Status
}

// api covers the Bot API calls the handlers make, so tests can fake the wire.
type api interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Config holds the bot wiring. Chats not in AllowedChatIDs can only use
// /chatid, which exists so an operator can discover the ID to allow.
type Config struct {
	Token          string
	AllowedChatIDs []int64
}

// Bot handles Telegram updates.
type Bot struct {
	cfg        Config
	api        api
	display    Display
	settings   *settings.Store
	allowed    map[int64]bool
	logger     *zap.Logger
	httpClient *http.Client
}

// New connects to the Bot API and registers the command menu.
func New(cfg Config, d Display, st *settings.Store, logger *zap.Logger) (*Bot, error) {
	client, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Telegram: %w", err)
	}
	logger.Info("telegram bot authorized", zap.String("username", client.Self.UserName))

	b := newBot(cfg, client, d, st, logger)
	if err := b.registerCommands(); err != nil {
		logger.Warn("failed to register command menu", zap.Error(err))
	}
	return b, nil
}

func newBot(cfg Config, client api, d Display, st *settings.Store, logger *zap.Logger) *Bot {
	allowed := make(map[int64]bool, len(cfg.AllowedChatIDs))
	for _, id := range cfg.AllowedChatIDs {
		allowed[id] = true
	}
	return &Bot{
		cfg:        cfg,
		api:        client,
		display:    d,
		settings:   st,
		allowed:    allowed,
		logger:     logger,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (b *Bot) registerCommands() error {
	cmds := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "start", Description: "Show welcome message"},
		tgbotapi.BotCommand{Command: "help", Description: "Show help message"},
		tgbotapi.BotCommand{Command: "settings", Description: "Set update interval"},
		tgbotapi.BotCommand{Command: "friends", Description: "Random Friends quote"},
		tgbotapi.BotCommand{Command: "xkcd", Description: "Random XKCD comic"},
	)
	_, err := b.api.Request(cmds)
	return err
}

// Run polls for updates until ctx is canceled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("telegram bot polling")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID

	// /chatid stays open so new operators can find the ID to allow.
	if msg.IsCommand() && msg.Command() == "chatid" {
		b.reply(chatID, fmt.Sprintf("Your chat ID: %d", chatID))
		return
	}
	if !b.isAllowed(chatID) {
		b.logger.Warn("unauthorized access denied", zap.Int64("chat_id", chatID))
		b.reply(chatID, "Unauthorized to use this bot.")
		return
	}

	switch {
	case msg.IsCommand():
		b.handleCommand(ctx, msg)
	case len(msg.Photo) > 0:
		b.handlePhoto(ctx, msg)
	case msg.Text != "":
		b.handleText(ctx, msg)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	switch msg.Command() {
	case "start":
		b.reply(chatID, fmt.Sprintf(
			"Welcome!\n\n"+
				"I can help you process photos and text for your M5Paper display.\n\n"+
				"Commands:\n"+
				"/start - Show welcome message\n"+
				"/help - Show help message\n"+
				"/chatid - Show your chat ID\n"+
				"/settings - Set update interval / Show status\n"+
				"/friends - Display a random Friends quote\n"+
				"/xkcd - Display a random XKCD comic\n\n"+
				"Your chat ID: %d", chatID))
	case "help":
		b.reply(chatID,
			"Available commands:\n"+
				"/start - Show welcome message\n"+
				"/settings - Set update interval / Show status\n"+
				"/help - Show help message\n"+
				"/chatid - Show your chat ID\n"+
				"/friends - Display a random Friends quote\n"+
				"/xkcd - Display a random XKCD comic\n\n"+
				"You may also send a photo or text message to create an image.")
	case "settings":
		b.sendSettingsKeyboard(chatID)
	case "friends":
		if err := b.display.ShowFriends(ctx); err != nil {
			b.logger.Warn("failed to show quote", zap.Error(err))
			b.reply(chatID, "Failed to process Friends quote.")
			return
		}
		b.reply(chatID, "Random Friends quote -> image.png")
	case "xkcd":
		if err := b.display.ShowXKCD(ctx); err != nil {
			b.logger.Warn("failed to show comic", zap.Error(err))
			b.reply(chatID, "Failed to preload XKCD comic.")
			return
		}
		b.reply(chatID, "Random XKCD comic -> image.png")
	default:
		b.logger.Debug("ignoring unknown command", zap.String("command", msg.Command()))
	}
}

func (b *Bot) handlePhoto(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	// Telegram orders the sizes smallest first; take the biggest.
	photo := msg.Photo[len(msg.Photo)-1]

	url, err := b.api.GetFileDirectURL(photo.FileID)
	if err != nil {
		b.logger.Warn("failed to resolve photo file", zap.Error(err))
		b.reply(chatID, "Failed to process photo.")
		return
	}
	data, err := b.download(ctx, url)
	if err != nil {
		b.logger.Warn("failed to download photo", zap.Error(err))
		b.reply(chatID, "Failed to process photo.")
		return
	}
	if err := b.display.SetPhoto(ctx, data); err != nil {
		b.logger.Warn("failed to process photo", zap.Error(err))
		b.reply(chatID, "Failed to process photo.")
		return
	}
	b.reply(chatID, "Photo processed -> image.png")
}

func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if err := b.display.SetText(ctx, msg.Text); err != nil {
		b.logger.Warn("failed to render text", zap.Error(err))
		b.reply(chatID, "Failed to render text.")
		return
	}
	b.reply(chatID, "Text rendered via browser -> image.png")
}

func (b *Bot) sendSettingsKeyboard(chatID int64) {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("1 min", "duration:1"),
			tgbotapi.NewInlineKeyboardButtonData("5 min", "duration:5"),
			tgbotapi.NewInlineKeyboardButtonData("30 min", "duration:30"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("60 min", "duration:60"),
			tgbotapi.NewInlineKeyboardButtonData("120 min", "duration:120"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Show Status", "show_status"),
		),
	)
	msg := tgbotapi.NewMessage(chatID, "Select update interval or Show Status:")
	msg.ReplyMarkup = kb
	b.send(msg)
}

func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if query.Message == nil || query.Message.Chat == nil {
		return
	}
	chatID := query.Message.Chat.ID
	if !b.isAllowed(chatID) {
		b.logger.Warn("unauthorized access denied", zap.Int64("chat_id", chatID))
		b.reply(chatID, "Unauthorized to use this bot.")
		return
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		b.logger.Warn("failed to answer callback", zap.Error(err))
	}

	switch data := query.Data; {
	case strings.HasPrefix(data, "duration:"):
		minutes, err := strconv.Atoi(strings.TrimPrefix(data, "duration:"))
		if err == nil {
			err = b.settings.SetInterval(minutes)
		}
		if err != nil {
			b.edit(chatID, query.Message.MessageID, "Invalid duration.")
			return
		}
		b.logger.Info("update interval set", zap.Int("minutes", minutes))
		b.edit(chatID, query.Message.MessageID, fmt.Sprintf("Update interval set to %d minutes.", minutes))
	case data == "show_status":
		edit := tgbotapi.NewEditMessageText(chatID, query.Message.MessageID, b.statusText())
		edit.ParseMode = tgbotapi.ModeMarkdown
		b.send(edit)
	default:
		b.edit(chatID, query.Message.MessageID, "Unknown command.")
	}
}

func (b *Bot) statusText() string {
	st := b.display.Status()
	return fmt.Sprintf(
		"**Current Settings**\n"+
			"Update Interval: %d min\n"+
			"Friends Mode: %v\n"+
			"XKCD Mode: %v\n"+
			"M5 Battery: %d%%\n",
		st.IntervalMinutes,
		st.Mode == settings.ModeFriends,
		st.Mode == settings.ModeXKCD,
		st.BatteryPercent)
}

func (b *Bot) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d fetching file", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
}

func (b *Bot) isAllowed(chatID int64) bool {
	return b.allowed[chatID]
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) edit(chatID int64, messageID int, text string) {
	b.send(tgbotapi.NewEditMessageText(chatID, messageID, text))
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.logger.Warn("failed to send message", zap.Error(err))
	}
}
