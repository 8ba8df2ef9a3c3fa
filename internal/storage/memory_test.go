package storage

import (
	"context"
	"testing"
	"time"

	"github.com/loomrun/loom/pkg/models"
)

func TestMemoryBackendOrdersByCreatedAtThenID(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	base := time.Now().UTC()
	msgs := []*models.Message{
		{ID: "b", SessionID: "s1", Role: models.RoleUser, Content: "second", CreatedAt: base.Add(time.Second)},
		{ID: "a", SessionID: "s1", Role: models.RoleUser, Content: "first", CreatedAt: base},
	}
	for _, m := range msgs {
		if err := b.StoreMessage(ctx, m); err != nil {
			t.Fatalf("StoreMessage: %v", err)
		}
	}

	got, err := b.GetMessages(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(got) != 2 || got[0].Content != "first" || got[1].Content != "second" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestMemoryBackendRespectsLimit(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := b.StoreMessage(ctx, &models.Message{SessionID: "s1", Role: models.RoleUser, Content: "msg"}); err != nil {
			t.Fatalf("StoreMessage: %v", err)
		}
	}

	got, err := b.GetMessages(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
}

func TestMemoryBackendIsolatesSessions(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	if err := b.StoreMessage(ctx, &models.Message{SessionID: "s1", Content: "a"}); err != nil {
		t.Fatalf("StoreMessage: %v", err)
	}
	if err := b.StoreMessage(ctx, &models.Message{SessionID: "s2", Content: "b"}); err != nil {
		t.Fatalf("StoreMessage: %v", err)
	}

	got, err := b.GetMessages(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(got) != 1 || got[0].Content != "a" {
		t.Fatalf("expected only session s1's message, got %+v", got)
	}
}
