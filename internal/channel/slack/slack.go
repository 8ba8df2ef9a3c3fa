// Package slack adapts Slack's Socket Mode event stream to the
// channel.Channel contract, via github.com/slack-go/slack.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loomrun/loom/internal/channel"
	"github.com/loomrun/loom/pkg/models"
	goslack "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// Channel publishes inbound Slack events onto a bus.Publisher and sends
// outbound replies through a *slack.Client, receiving events over a
// Socket Mode connection rather than an HTTP webhook.
type Channel struct {
	client    *goslack.Client
	socket    *socketmode.Client
	publisher channel.Publisher
	logger    *slog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	botUserID string
	started   bool
}

// New returns a Slack adapter authenticated with botToken (xoxb-) for API
// calls and appToken (xapp-) for the Socket Mode connection.
func New(botToken, appToken string, publisher channel.Publisher, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	client := goslack.New(botToken, goslack.OptionAppLevelToken(appToken))
	return &Channel{
		client:    client,
		socket:    socketmode.New(client),
		publisher: publisher,
		logger:    logger.With("channel", "slack"),
	}
}

func (c *Channel) Name() string { return "slack" }

// Start authenticates to learn the bot's own user ID (needed to skip the
// bot's own messages), then begins the Socket Mode event loop in the
// background.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("slack channel already started")
	}

	auth, err := c.client.AuthTest()
	if err != nil {
		return fmt.Errorf("authenticating with slack: %w", err)
	}
	c.botUserID = auth.UserID

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.started = true

	go c.handleEvents(runCtx)
	go func() {
		if err := c.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			c.logger.Error("slack socket mode run failed", "error", err)
		}
	}()

	c.logger.Info("slack channel started", "bot_user_id", c.botUserID)
	return nil
}

// Stop cancels the Socket Mode connection and event loop.
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
	c.logger.Info("slack channel stopped")
	return nil
}

// Send posts msg.Content to the Slack channel or DM named by msg.ChatID.
func (c *Channel) Send(ctx context.Context, msg models.OutboundMessage) error {
	_, _, err := c.client.PostMessageContext(ctx, msg.ChatID, goslack.MsgOptionText(msg.Content, false))
	if err != nil {
		return fmt.Errorf("sending slack message: %w", err)
	}
	return nil
}

func (c *Channel) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-c.socket.Events:
			if !ok {
				return
			}
			if event.Type == socketmode.EventTypeEventsAPI {
				c.handleEventsAPI(ctx, event)
			}
		}
	}
}

func (c *Channel) handleEventsAPI(ctx context.Context, event socketmode.Event) {
	apiEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	if event.Request != nil {
		c.socket.Ack(*event.Request)
	}

	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}
	msgEvent, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}

	inbound, ok := convertMessageEvent(msgEvent, c.botUserID)
	if !ok {
		return
	}

	if err := c.publisher.PublishInbound(ctx, inbound); err != nil {
		c.logger.Warn("failed to publish inbound slack message", "error", err)
	}
}

// convertMessageEvent maps a Slack message event onto the bus's
// InboundMessage shape, reporting ok=false for the bot's own messages,
// other bots' messages, and message subtypes other than file shares
// (edits, channel-topic changes, etc.).
func convertMessageEvent(ev *slackevents.MessageEvent, botUserID string) (models.InboundMessage, bool) {
	if ev == nil || ev.BotID != "" || ev.User == botUserID {
		return models.InboundMessage{}, false
	}
	if ev.SubType != "" && ev.SubType != "file_share" {
		return models.InboundMessage{}, false
	}

	return models.InboundMessage{
		Channel:  "slack",
		ChatID:   ev.Channel,
		Content:  ev.Text,
		UserID:   ev.User,
		Metadata: map[string]any{"slack_thread_ts": ev.ThreadTimeStamp},
	}, true
}
