// Package discord adapts Discord's gateway API to the channel.Channel
// contract, via github.com/bwmarrin/discordgo.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/loomrun/loom/internal/channel"
	"github.com/loomrun/loom/pkg/models"
)

// session is the subset of *discordgo.Session this adapter calls, so tests
// can substitute a fake.
type session interface {
	Open() error
	Close() error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	AddHandler(handler interface{}) func()
}

// Channel publishes inbound Discord messages onto a bus.Publisher and sends
// outbound replies through a *discordgo.Session.
type Channel struct {
	token     string
	publisher channel.Publisher
	logger    *slog.Logger

	mu        sync.Mutex
	session   session
	cancel    context.CancelFunc
	connected bool
}

// New returns a Discord adapter for the given bot token. The session is
// created lazily in Start so construction never talks to the network.
func New(token string, publisher channel.Publisher, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{token: token, publisher: publisher, logger: logger.With("channel", "discord")}
}

func (c *Channel) Name() string { return "discord" }

// Start opens the gateway connection and registers the message handler.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return fmt.Errorf("discord channel already started")
	}

	if c.session == nil {
		dg, err := discordgo.New("Bot " + c.token)
		if err != nil {
			return fmt.Errorf("creating discord session: %w", err)
		}
		c.session = dg
	}

	c.session.AddHandler(c.handleMessageCreate)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("opening discord gateway connection: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.connected = true
	go func() {
		<-runCtx.Done()
	}()

	c.logger.Info("discord channel started")
	return nil
}

// Stop closes the gateway connection.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("closing discord session: %w", err)
	}
	c.connected = false
	c.logger.Info("discord channel stopped")
	return nil
}

// Send posts msg.Content to the Discord channel named by msg.ChatID.
func (c *Channel) Send(ctx context.Context, msg models.OutboundMessage) error {
	if _, err := c.session.ChannelMessageSend(msg.ChatID, msg.Content); err != nil {
		return fmt.Errorf("sending discord message: %w", err)
	}
	return nil
}

func (c *Channel) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	inbound, ok := convertMessage(m.Message)
	if !ok {
		return
	}

	if err := c.publisher.PublishInbound(context.Background(), inbound); err != nil {
		c.logger.Warn("failed to publish inbound discord message", "error", err)
	}
}

// convertMessage maps a Discord message onto the bus's InboundMessage
// shape, reporting ok=false for bot messages and empty content that should
// never reach the agent loop.
func convertMessage(m *discordgo.Message) (models.InboundMessage, bool) {
	if m == nil || m.Author == nil || m.Author.Bot || m.Content == "" {
		return models.InboundMessage{}, false
	}

	return models.InboundMessage{
		Channel:  "discord",
		ChatID:   m.ChannelID,
		Content:  m.Content,
		UserID:   m.Author.ID,
		UserName: m.Author.Username,
		Metadata: map[string]any{"discord_guild_id": m.GuildID},
	}, true
}
