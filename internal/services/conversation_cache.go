package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/flowerwine/filebounty-backend/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	conversationRecentKeyPrefix = "conversation:recent:"
	conversationRecentMaxLen    = 50
	conversationRecentTTL       = 1 * time.Hour
)

func conversationRecentKey(conversationID string) string {
	return conversationRecentKeyPrefix + conversationID
}

// ConversationCache keeps the newest messages of each conversation in a
// Redis list, newest at the head. A nil client disables it.
type ConversationCache struct {
	rdb *redis.Client
}

func NewConversationCache(rdb *redis.Client) *ConversationCache {
	return &ConversationCache{rdb: rdb}
}

// Push adds a message after it was stored.
func (c *ConversationCache) Push(ctx context.Context, msg models.PrivateMessage) {
	if c == nil || c.rdb == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	key := conversationRecentKey(msg.ConversationID)
	pipe := c.rdb.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, conversationRecentMaxLen-1)
	pipe.Expire(ctx, key, conversationRecentTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		zap.S().Warnf("conversation cache: push failed for %s: %v", msg.ConversationID, err)
	}
}

// Recent returns up to limit cached messages, newest first. ok is false on
// a miss.
func (c *ConversationCache) Recent(ctx context.Context, conversationID string, limit int64) ([]models.PrivateMessage, bool) {
	if c == nil || c.rdb == nil || limit <= 0 {
		return nil, false
	}
	raw, err := c.rdb.LRange(ctx, conversationRecentKey(conversationID), 0, limit-1).Result()
	if err != nil || len(raw) == 0 {
		return nil, false
	}
	msgs := make([]models.PrivateMessage, 0, len(raw))
	for _, r := range raw {
		var m models.PrivateMessage
		if json.Unmarshal([]byte(r), &m) != nil {
			return nil, false
		}
		msgs = append(msgs, m)
	}
	return msgs, true
}

// Warm replaces the cached list with msgs given newest first.
func (c *ConversationCache) Warm(ctx context.Context, conversationID string, msgs []models.PrivateMessage) {
	if c == nil || c.rdb == nil || len(msgs) == 0 {
		return
	}
	key := conversationRecentKey(conversationID)
	pipe := c.rdb.Pipeline()
	pipe.Del(ctx, key)
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			continue
		}
		pipe.RPush(ctx, key, data)
	}
	pipe.LTrim(ctx, key, 0, conversationRecentMaxLen-1)
	pipe.Expire(ctx, key, conversationRecentTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		zap.S().Warnf("conversation cache: warm failed for %s: %v", conversationID, err)
	}
}
