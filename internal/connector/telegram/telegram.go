package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/geppetto-io/geppetto/internal/connector"
)

// Config holds Telegram connector configuration.
type Config struct {
	Token     string  // Bot token from @BotFather
	AllowFrom []int64 // Allowed Telegram user IDs (empty = allow all)
}

// Connector long-polls Telegram updates and runs each message through the
// support engine.
type Connector struct {
	bot    *tgbotapi.BotAPI
	config Config
	engine connector.Engine
	logger *slog.Logger
	cancel context.CancelFunc
}

// New creates a new Telegram connector.
func New(cfg Config, engine connector.Engine, logger *slog.Logger) (*Connector, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &Connector{
		bot:    bot,
		config: cfg,
		engine: engine,
		logger: logger.With("component", "telegram"),
	}, nil
}

func (c *Connector) Name() string { return "telegram" }

// Start begins long-polling for updates. Blocks until context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := c.bot.GetUpdatesChan(u)

	c.logger.Info("telegram connector started", "bot", c.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			c.handleUpdate(ctx, update)

		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			c.logger.Info("telegram connector stopped")
			return ctx.Err()
		}
	}
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *Connector) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	userID := msg.From.ID
	chatID := msg.Chat.ID

	// Access control
	if len(c.config.AllowFrom) > 0 && !contains(c.config.AllowFrom, userID) {
		c.logger.Warn("unauthorized user", "user_id", userID, "username", msg.From.UserName)
		return
	}

	if msg.IsCommand() {
		c.handleCommand(msg)
		return
	}

	text := msg.Text
	if text == "" && msg.Caption != "" {
		text = msg.Caption
	}
	if text == "" {
		return
	}

	// Send typing indicator while the engine works
	c.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))

	cc := c.engine.GetOrCreateContext(
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(chatID, 10),
		"", // Telegram chats have no threads worth tracking here
		"",
	)

	resp, err := c.engine.Process(ctx, text, cc)
	if err != nil {
		c.logger.Error("message processing failed", "chat_id", chatID, "error", err)
		c.reply(chatID, connector.Apology, "")
		return
	}

	ticketID := c.engine.ContextSnapshot(cc).TicketID
	c.reply(chatID, RenderHTML(resp, ticketID), "HTML")
}

func (c *Connector) handleCommand(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start", "help":
		help := strings.Join([]string{
			"Hi! I'm the IT support assistant.",
			"Describe your problem in a message and I'll try to fix it or open a ticket for you.",
			"",
			"/help — Show this help message",
		}, "\n")
		c.reply(chatID, help, "")

	default:
		c.reply(chatID, "Unknown command. Send /help for usage.", "")
	}
}

func (c *Connector) reply(chatID int64, text, parseMode string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = parseMode
	msg.DisableWebPagePreview = true

	if _, err := c.bot.Send(msg); err != nil && parseMode != "" {
		// Fall back to plain text when the HTML rendering is rejected
		c.logger.Warn("HTML send failed, falling back to plain text",
			"chat_id", chatID,
			"error", err,
		)
		msg.Text = stripHTML(text)
		msg.ParseMode = ""
		if _, err := c.bot.Send(msg); err != nil {
			c.logger.Error("telegram send failed", "chat_id", chatID, "error", err)
		}
	} else if err != nil {
		c.logger.Error("telegram send failed", "chat_id", chatID, "error", err)
	}
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
