// Package bus implements the bounded inbound/outbound message queues that
// decouple channel adapters from the agent loop.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loomrun/loom/internal/ratelimit"
	"github.com/loomrun/loom/pkg/models"
)

// MaxContentLength bounds a single message body. Longer content is rejected
// at validation time rather than truncated silently.
const MaxContentLength = 100000

// ValidateInbound checks the required fields of an inbound message and
// trims incidental whitespace from optional identity fields. channel,
// chat_id, and content are required; user_id/user_name are optional.
func ValidateInbound(msg models.InboundMessage) (models.InboundMessage, error) {
	if strings.TrimSpace(msg.Channel) == "" {
		return msg, fmt.Errorf("inbound message missing channel")
	}
	if strings.TrimSpace(msg.ChatID) == "" {
		return msg, fmt.Errorf("inbound message missing chat_id")
	}
	if msg.Content == "" {
		return msg, fmt.Errorf("inbound message missing content")
	}
	if len(msg.Content) > MaxContentLength {
		return msg, fmt.Errorf("inbound message content exceeds %d characters", MaxContentLength)
	}
	msg.UserID = strings.TrimSpace(msg.UserID)
	msg.UserName = strings.TrimSpace(msg.UserName)
	return msg, nil
}

// Bus is a pair of bounded FIFO queues connecting channel adapters (inbound
// producers, outbound consumers) to the agent loop (inbound consumer,
// outbound producer). Outbound publishes are additionally gated by a
// two-tier rate limiter per destination.
type Bus struct {
	inbound  chan models.InboundMessage
	outbound chan models.OutboundMessage

	rateLimiter *ratelimit.Outbound
	logger      *slog.Logger
}

// Option configures a Bus at construction.
type Option func(*Bus)

// WithOutboundRateLimit attaches a two-tier outbound rate limiter. Without
// this option outbound publishes are never throttled.
func WithOutboundRateLimit(limiter *ratelimit.Outbound) Option {
	return func(b *Bus) { b.rateLimiter = limiter }
}

// WithLogger attaches a structured logger used to warn on lenient-mode
// rate-limit denials.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New builds a Bus with the given queue capacity for both directions.
func New(capacity int, opts ...Option) *Bus {
	b := &Bus{
		inbound:  make(chan models.InboundMessage, capacity),
		outbound: make(chan models.OutboundMessage, capacity),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// PublishInbound blocks until the inbound queue has capacity or ctx is
// cancelled.
func (b *Bus) PublishInbound(ctx context.Context, msg models.InboundMessage) error {
	select {
	case b.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeInbound blocks until a message is available or ctx is cancelled.
func (b *Bus) ConsumeInbound(ctx context.Context) (models.InboundMessage, error) {
	select {
	case msg := <-b.inbound:
		return msg, nil
	case <-ctx.Done():
		return models.InboundMessage{}, ctx.Err()
	}
}

// PublishOutbound checks the destination's rate limit (if configured)
// before enqueuing. In strict mode a denial returns a *ratelimit.RateLimitError
// and the message is never enqueued. In lenient mode a denial is logged and
// the message is enqueued anyway. The limiter's counters are only updated
// once the message is actually placed on the outbound queue, so a send that
// loses the race to ctx cancellation never consumes quota for a message
// that was never delivered.
func (b *Bus) PublishOutbound(ctx context.Context, msg models.OutboundMessage) error {
	if b.rateLimiter == nil {
		select {
		case b.outbound <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	allowed, _, err := b.rateLimiter.Reserve(msg.Channel, msg.ChatID)
	if err != nil {
		return err
	}
	if !allowed {
		b.logger.Warn("outbound rate limit exceeded, sending anyway",
			"channel", msg.Channel, "chat_id", msg.ChatID)
	}

	select {
	case b.outbound <- msg:
		b.rateLimiter.Commit(msg.Channel, msg.ChatID)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeOutbound blocks until a message is available or ctx is cancelled.
func (b *Bus) ConsumeOutbound(ctx context.Context) (models.OutboundMessage, error) {
	select {
	case msg := <-b.outbound:
		return msg, nil
	case <-ctx.Done():
		return models.OutboundMessage{}, ctx.Err()
	}
}

// InboundSize reports the number of messages currently queued inbound.
func (b *Bus) InboundSize() int { return len(b.inbound) }

// OutboundSize reports the number of messages currently queued outbound.
func (b *Bus) OutboundSize() int { return len(b.outbound) }
