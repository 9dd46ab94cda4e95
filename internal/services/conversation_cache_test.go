package services

import (
	"context"
	"testing"
	"time"

	"github.com/flowerwine/filebounty-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationCache(t *testing.T) {
	rdb, mr := newTestRedis(t)
	cache := NewConversationCache(rdb)
	ctx := context.Background()

	_, ok := cache.Recent(ctx, "c1", 10)
	assert.False(t, ok)

	for i := int64(1); i <= conversationRecentMaxLen+5; i++ {
		cache.Push(ctx, models.PrivateMessage{ID: i, ConversationID: "c1"})
	}
	got, ok := cache.Recent(ctx, "c1", 3)
	require.True(t, ok)
	require.Len(t, got, 3)
	assert.Equal(t, int64(conversationRecentMaxLen+5), got[0].ID)

	all, err := mr.List(conversationRecentKey("c1"))
	require.NoError(t, err)
	assert.Len(t, all, conversationRecentMaxLen)
	assert.Greater(t, mr.TTL(conversationRecentKey("c1")), time.Duration(0))

	cache.Warm(ctx, "c1", []models.PrivateMessage{{ID: 9, ConversationID: "c1"}, {ID: 8, ConversationID: "c1"}})
	got, ok = cache.Recent(ctx, "c1", 10)
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, int64(9), got[0].ID)
}

func TestConversationCache_Disabled(t *testing.T) {
	cache := NewConversationCache(nil)
	cache.Push(context.Background(), models.PrivateMessage{ID: 1, ConversationID: "c1"})
	_, ok := cache.Recent(context.Background(), "c1", 1)
	assert.False(t, ok)
}
