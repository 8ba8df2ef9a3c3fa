package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/loomrun/loom/pkg/models"
)

// maxMessagesPerSession bounds in-memory growth: once exceeded, the oldest
// messages for a session are trimmed.
const maxMessagesPerSession = 1000

// MemoryBackend is an in-process Backend for tests and local single-process
// runs. Messages are appended to an ordered slice per session, so
// (session_id, created_at, id) ordering is the natural append order.
type MemoryBackend struct {
	mu       sync.RWMutex
	messages map[string][]*models.Message
}

// NewMemoryBackend builds an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{messages: make(map[string][]*models.Message)}
}

func (m *MemoryBackend) Initialize(ctx context.Context) error { return nil }

func (m *MemoryBackend) StoreMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return fmt.Errorf("message is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *msg
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}

	history := append(m.messages[msg.SessionID], &clone)
	if len(history) > maxMessagesPerSession {
		history = history[len(history)-maxMessagesPerSession:]
	}
	m.messages[msg.SessionID] = history
	return nil
}

func (m *MemoryBackend) GetMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.messages[sessionID]
	ordered := make([]*models.Message, len(history))
	copy(ordered, history)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}

	out := make([]*models.Message, len(ordered))
	for i, msg := range ordered {
		clone := *msg
		out[i] = &clone
	}
	return out, nil
}

func (m *MemoryBackend) HealthCheck(ctx context.Context) error { return nil }

func (m *MemoryBackend) Close() error { return nil }
