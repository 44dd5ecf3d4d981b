package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"chat8/realtime-service/models"
)

// FriendStore reads the bidirectional friend relation. The realtime
// service holds no write access to it.
type FriendStore struct {
	db *gorm.DB
}

func NewFriendStore(db *gorm.DB) *FriendStore {
	return &FriendStore{db: db}
}

// GetFriendIDs returns every user adjacent to userID, regardless of which
// side of the edge they sit on.
func (s *FriendStore) GetFriendIDs(ctx context.Context, userID string) ([]string, error) {
	var edges []models.FriendEdge
	err := s.db.WithContext(ctx).
		Where("user_id = ? OR friend_id = ?", userID, userID).
		Find(&edges).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load friend edges: %w", err)
	}

	seen := make(map[string]struct{}, len(edges))
	ids := make([]string, 0, len(edges))
	for _, edge := range edges {
		friendID := edge.FriendID
		if friendID == userID {
			friendID = edge.UserID
		}
		if _, dup := seen[friendID]; dup {
			continue
		}
		seen[friendID] = struct{}{}
		ids = append(ids, friendID)
	}
	return ids, nil
}
