package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chat8/realtime-service/models"
	"chat8/realtime-service/utils"

	"github.com/redis/go-redis/v9"
)

const (
	presenceKeyPrefix = "presence:"
	onlineSetKey      = "online_users"
)

// RedisPresenceStore mirrors presence snapshots into Redis: one JSON
// record per user with a TTL, plus a set of online user IDs. The TTL acts
// as a backstop so a crashed process cannot leave users online forever.
type RedisPresenceStore struct {
	redis  *redis.Client
	logger *utils.Logger
	ttl    time.Duration
}

func NewRedisPresenceStore(client *redis.Client, ttl time.Duration, logger *utils.Logger) *RedisPresenceStore {
	return &RedisPresenceStore{
		redis:  client,
		logger: logger,
		ttl:    ttl,
	}
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(redisURL string, db int) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opt.DB = db

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// SetPresence writes the user's snapshot and maintains the online set in
// one pipeline.
func (s *RedisPresenceStore) SetPresence(ctx context.Context, presence models.UserPresence) error {
	data, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("failed to marshal presence data: %w", err)
	}

	key := presenceKeyPrefix + presence.UserID

	pipe := s.redis.Pipeline()
	if presence.Status == models.StatusOnline {
		pipe.Set(ctx, key, data, s.ttl)
		pipe.SAdd(ctx, onlineSetKey, presence.UserID)
		pipe.Expire(ctx, onlineSetKey, s.ttl*2)
	} else {
		// Offline snapshots keep last_seen readable but leave the set.
		pipe.Set(ctx, key, data, 0)
		pipe.SRem(ctx, onlineSetKey, presence.UserID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}
	return nil
}

// GetPresence reads the user's snapshot, reporting offline for unknown or
// expired users.
func (s *RedisPresenceStore) GetPresence(ctx context.Context, userID string) (*models.UserPresence, error) {
	data, err := s.redis.Get(ctx, presenceKeyPrefix+userID).Result()
	if err != nil {
		if err == redis.Nil {
			return &models.UserPresence{
				UserID: userID,
				Status: models.StatusOffline,
			}, nil
		}
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}

	var presence models.UserPresence
	if err := json.Unmarshal([]byte(data), &presence); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence data: %w", err)
	}

	if presence.Status == models.StatusOnline && time.Since(presence.LastSeen) > s.ttl {
		presence.Status = models.StatusOffline
	}
	return &presence, nil
}

// GetOnlineUsers lists every user in the online set whose snapshot is
// still fresh, pruning expired members as a side effect.
func (s *RedisPresenceStore) GetOnlineUsers(ctx context.Context) ([]models.UserPresence, error) {
	userIDs, err := s.redis.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get online users: %w", err)
	}
	if len(userIDs) == 0 {
		return []models.UserPresence{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(userIDs))
	for i, userID := range userIDs {
		cmds[i] = pipe.Get(ctx, presenceKeyPrefix+userID)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to get presence data: %w", err)
	}

	online := make([]models.UserPresence, 0, len(userIDs))
	var expired []string

	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			if err != redis.Nil {
				s.logger.Warn("failed to read presence entry", "user_id", userIDs[i], "error", err)
			}
			expired = append(expired, userIDs[i])
			continue
		}

		var presence models.UserPresence
		if err := json.Unmarshal([]byte(data), &presence); err != nil {
			s.logger.Warn("corrupt presence entry", "user_id", userIDs[i], "error", err)
			expired = append(expired, userIDs[i])
			continue
		}

		if presence.Status == models.StatusOnline && time.Since(presence.LastSeen) <= s.ttl {
			online = append(online, presence)
		} else {
			expired = append(expired, userIDs[i])
		}
	}

	if len(expired) > 0 {
		if err := s.redis.SRem(ctx, onlineSetKey, expired).Err(); err != nil {
			s.logger.Warn("failed to prune online set", "error", err)
		}
	}

	return online, nil
}
