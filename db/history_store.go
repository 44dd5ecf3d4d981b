package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"chat8/realtime-service/models"
)

// HistoryStore appends per-user durable message records. Callers treat
// appends as fire-and-forget.
type HistoryStore struct {
	db *gorm.DB
}

func NewHistoryStore(db *gorm.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

func (s *HistoryStore) AppendToHistory(ctx context.Context, userID string, entry models.HistoryEntry) error {
	entry.UserID = userID
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to append history for user %s: %w", userID, err)
	}
	return nil
}
