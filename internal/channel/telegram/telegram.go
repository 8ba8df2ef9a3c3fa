// Package telegram adapts Telegram's long-polling bot API to the
// channel.Channel contract, via github.com/go-telegram/bot.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/loomrun/loom/internal/channel"
	"github.com/loomrun/loom/pkg/models"
)

// Channel publishes inbound Telegram updates onto a bus.Publisher and sends
// outbound replies through a *bot.Bot running in long-polling mode.
type Channel struct {
	token     string
	publisher channel.Publisher
	logger    *slog.Logger

	mu      sync.Mutex
	bot     *tgbot.Bot
	cancel  context.CancelFunc
	started bool
}

// New returns a Telegram adapter for the given bot token.
func New(token string, publisher channel.Publisher, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{token: token, publisher: publisher, logger: logger.With("channel", "telegram")}
}

func (c *Channel) Name() string { return "telegram" }

// Start builds the bot client with a default update handler and begins
// long-polling in a background goroutine.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("telegram channel already started")
	}

	opts := []tgbot.Option{tgbot.WithDefaultHandler(c.handleUpdate)}
	b, err := tgbot.New(c.token, opts...)
	if err != nil {
		return fmt.Errorf("creating telegram bot: %w", err)
	}
	c.bot = b

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.started = true

	go b.Start(runCtx)

	c.logger.Info("telegram channel started")
	return nil
}

// Stop cancels the long-polling loop.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.started = false
	c.logger.Info("telegram channel stopped")
	return nil
}

// Send posts msg.Content to the chat identified by msg.ChatID.
func (c *Channel) Send(ctx context.Context, msg models.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", msg.ChatID, err)
	}

	_, err = c.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   msg.Content,
	})
	if err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	return nil
}

func (c *Channel) handleUpdate(ctx context.Context, b *tgbot.Bot, update *tgmodels.Update) {
	inbound, ok := convertUpdate(update)
	if !ok {
		return
	}

	if err := c.publisher.PublishInbound(ctx, inbound); err != nil {
		c.logger.Warn("failed to publish inbound telegram message", "error", err)
	}
}

// convertUpdate maps a Telegram update onto the bus's InboundMessage shape,
// reporting ok=false for updates with no text message body (edits, member
// changes, callback queries, etc.).
func convertUpdate(update *tgmodels.Update) (models.InboundMessage, bool) {
	if update == nil || update.Message == nil || update.Message.From == nil || update.Message.Text == "" {
		return models.InboundMessage{}, false
	}

	return models.InboundMessage{
		Channel:  "telegram",
		ChatID:   strconv.FormatInt(update.Message.Chat.ID, 10),
		Content:  update.Message.Text,
		UserID:   strconv.FormatInt(update.Message.From.ID, 10),
		UserName: update.Message.From.Username,
	}, true
}
