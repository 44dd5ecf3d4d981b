package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"chat8/realtime-service/models"
)

// StagedStore keeps the durable copy of messages awaiting delivery.
type StagedStore struct {
	db *gorm.DB
}

func NewStagedStore(db *gorm.DB) *StagedStore {
	return &StagedStore{db: db}
}

func (s *StagedStore) Create(ctx context.Context, msg *models.StagedMessage) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to create staged message: %w", err)
	}
	return nil
}

// Delete removes a staged copy after a confirmed push. Deleting an id
// that was already removed is a no-op, so the replay/send race on a
// single message cannot fail.
func (s *StagedStore) Delete(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&models.StagedMessage{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete staged message: %w", result.Error)
	}
	return nil
}

// ListUndelivered returns every staged message addressed to the user in
// creation order, the order replay must preserve.
func (s *StagedStore) ListUndelivered(ctx context.Context, toID string) ([]models.StagedMessage, error) {
	var msgs []models.StagedMessage
	err := s.db.WithContext(ctx).
		Where("to_id = ? AND delivered = ?", toID, false).
		Order("created_at ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list staged messages: %w", err)
	}
	return msgs, nil
}
