package service

import (
	"context"
	"fmt"

	"github.com/kilonzo683/smartwebai-sub002/internal/domain"
)

// GetMessages returns the persisted transcript of a session.
func (s *Service) GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.StoredMessage, error) {
	messages, err := s.store.GetMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return messages, nil
}

// SaveTurn persists completed transcript messages for a session,
// creating the session on first use.
func (s *Service) SaveTurn(ctx context.Context, sessionID string, tenant domain.Tenant, agent domain.AgentType, messages ...domain.Message) error {
	if _, err := s.store.GetOrCreateSession(ctx, sessionID, tenant.UserID, agent); err != nil {
		return fmt.Errorf("failed to get/create session: %w", err)
	}

	for _, m := range messages {
		stored := &domain.StoredMessage{
			MessageID: m.ID,
			SessionID: sessionID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.Timestamp,
		}
		if err := s.store.CreateMessage(ctx, stored); err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
	}

	if err := s.recordEvent(ctx, sessionID, domain.EventTypeTurnSaved, map[string]int{"messages": len(messages)}); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to record turn_saved event")
	}
	return nil
}
