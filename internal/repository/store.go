// Package store defines the storage interface and implementations.
package store

import (
	"context"

	"github.com/kilonzo683/smartwebai-sub002/internal/domain"
)

// Store defines the interface for data persistence.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	GetOrCreateSession(ctx context.Context, sessionID, userID string, agent domain.AgentType) (*domain.Session, error)

	// Message operations
	CreateMessage(ctx context.Context, message *domain.StoredMessage) error
	GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.StoredMessage, error)

	// Event operations
	CreateEvent(ctx context.Context, event *domain.Event) error
	GetEvents(ctx context.Context, sessionID string, afterTs int64, types []string, limit int) ([]domain.Event, error)

	// Lifecycle
	Close() error
}
