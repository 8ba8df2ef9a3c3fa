package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loomrun/loom/internal/ratelimit"
	"github.com/loomrun/loom/pkg/models"
)

func TestValidateInboundRequiresFields(t *testing.T) {
	_, err := ValidateInbound(models.InboundMessage{})
	if err == nil {
		t.Fatal("expected error for empty message")
	}

	ok, err := ValidateInbound(models.InboundMessage{Channel: "cli", ChatID: "1", Content: "hi", UserID: "  u "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok.UserID != "u" {
		t.Errorf("expected trimmed user_id, got %q", ok.UserID)
	}
}

func TestPublishConsumeInbound(t *testing.T) {
	b := New(4)
	ctx := context.Background()
	msg := models.InboundMessage{Channel: "cli", ChatID: "1", Content: "hi"}

	if err := b.PublishInbound(ctx, msg); err != nil {
		t.Fatalf("PublishInbound: %v", err)
	}
	got, err := b.ConsumeInbound(ctx)
	if err != nil {
		t.Fatalf("ConsumeInbound: %v", err)
	}
	if got.ChatID != "1" {
		t.Errorf("unexpected message: %+v", got)
	}
}

func TestConsumeInboundRespectsCancellation(t *testing.T) {
	b := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.ConsumeInbound(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPublishOutboundStrictDeniesOverQuota(t *testing.T) {
	limiter := ratelimit.NewOutbound(1, 10, ratelimit.Strict)
	b := New(4, WithOutboundRateLimit(limiter))
	ctx := context.Background()
	msg := models.OutboundMessage{Channel: "cli", ChatID: "1", Content: "hi"}

	if err := b.PublishOutbound(ctx, msg); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	err := b.PublishOutbound(ctx, msg)
	if err == nil {
		t.Fatal("expected rate limit error on second publish")
	}
	var rlErr *ratelimit.RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("expected *RateLimitError, got %T: %v", err, err)
	}
	if b.OutboundSize() != 1 {
		t.Errorf("expected denied message not enqueued, size=%d", b.OutboundSize())
	}
}

func TestPublishOutboundLenientStillEnqueues(t *testing.T) {
	limiter := ratelimit.NewOutbound(1, 10, ratelimit.Lenient)
	b := New(4, WithOutboundRateLimit(limiter))
	ctx := context.Background()
	msg := models.OutboundMessage{Channel: "cli", ChatID: "1", Content: "hi"}

	if err := b.PublishOutbound(ctx, msg); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := b.PublishOutbound(ctx, msg); err != nil {
		t.Fatalf("second publish (over quota, lenient): %v", err)
	}
	if b.OutboundSize() != 2 {
		t.Errorf("expected both messages enqueued, size=%d", b.OutboundSize())
	}
}

func TestPublishOutboundBlocksOnFullQueue(t *testing.T) {
	b := New(1)
	ctx := context.Background()
	msg := models.OutboundMessage{Channel: "cli", ChatID: "1", Content: "hi"}

	if err := b.PublishOutbound(ctx, msg); err != nil {
		t.Fatalf("first publish: %v", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := b.PublishOutbound(timeoutCtx, msg)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded on full queue, got %v", err)
	}
}
