package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"chorus/chat-service/config"
	"chorus/chat-service/models"
	"chorus/chat-service/utils"
)

const (
	presenceKeyPrefix = "presence:"
	onlineSetKey      = "online_users"

	recordTimeout = 5 * time.Second
)

// NewRedisClient connects to Redis using the configured URL.
func NewRedisClient(cfg *config.Config) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.DB = cfg.RedisDB

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// UserPresence is the cached presence record kept in Redis.
type UserPresence struct {
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

// PresenceCache maintains the denormalized presence status outside the
// registry: a per-user record in Redis with a TTL plus the status column on
// the user row. Both copies may lag the registry briefly; the registry stays
// authoritative.
type PresenceCache struct {
	redis  *redis.Client
	store  Store
	ttl    time.Duration
	logger *utils.Logger
}

func NewPresenceCache(redisClient *redis.Client, store Store, ttl time.Duration, logger *utils.Logger) *PresenceCache {
	return &PresenceCache{
		redis:  redisClient,
		store:  store,
		ttl:    ttl,
		logger: logger,
	}
}

// RecordStatus implements StatusRecorder for registry transitions.
func (pc *PresenceCache) RecordStatus(ctx context.Context, userID uuid.UUID, username, status string) {
	ctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()

	presence := UserPresence{
		UserID:   userID,
		Username: username,
		Status:   status,
		LastSeen: time.Now(),
	}

	data, err := json.Marshal(presence)
	if err != nil {
		pc.logger.Error("Failed to marshal presence record", "userId", userID, "error", err)
		return
	}

	key := presenceKeyPrefix + userID.String()

	// Use pipeline for atomic operations
	pipe := pc.redis.Pipeline()
	if status == models.StatusOnline {
		pipe.Set(ctx, key, data, pc.ttl)
		pipe.SAdd(ctx, onlineSetKey, userID.String())
	} else {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, onlineSetKey, userID.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		pc.logger.Error("Failed to update presence cache", "userId", userID, "error", err)
	}

	if err := pc.store.SetUserStatus(ctx, userID, status); err != nil {
		pc.logger.Error("Failed to update user status", "userId", userID, "error", err)
	}
}

// Status returns the cached status for the user, offline when the record is
// missing or expired.
func (pc *PresenceCache) Status(ctx context.Context, userID uuid.UUID) (string, error) {
	data, err := pc.redis.Get(ctx, presenceKeyPrefix+userID.String()).Result()
	if err != nil {
		if err == redis.Nil {
			return models.StatusOffline, nil
		}
		return "", fmt.Errorf("failed to get presence: %w", err)
	}

	var presence UserPresence
	if err := json.Unmarshal([]byte(data), &presence); err != nil {
		return "", fmt.Errorf("failed to unmarshal presence record: %w", err)
	}
	return presence.Status, nil
}
