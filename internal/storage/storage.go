// Package storage implements the pluggable message-history backend behind
// the agent loop: an in-memory map for tests and local runs, and relational
// backends (Postgres, SQLite) for durable deployments.
package storage

import (
	"context"

	"github.com/loomrun/loom/pkg/models"
)

// Backend is the storage capability the agent loop depends on. Every
// implementation orders GetMessages results by (session_id, created_at, id).
type Backend interface {
	Initialize(ctx context.Context) error
	StoreMessage(ctx context.Context, msg *models.Message) error
	GetMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)
	HealthCheck(ctx context.Context) error
	Close() error
}
