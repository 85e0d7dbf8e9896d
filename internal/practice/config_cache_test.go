package practice

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client
}

func TestConfigCache_GetMissReturnsDefault(t *testing.T) {
	cache := NewConfigCache(setupTestRedis(t))
	practiceID := uuid.New()

	cfg, err := cache.Get(context.Background(), practiceID)
	require.NoError(t, err)
	assert.Equal(t, practiceID, cfg.PracticeID)
	assert.Equal(t, 30, cfg.SlotDurationMinutes)
}

func TestConfigCache_SetThenGetRoundTrips(t *testing.T) {
	cache := NewConfigCache(setupTestRedis(t))
	cfg := DefaultConfig(uuid.New())
	cfg.TransferNumber = "+15559998888"
	cfg.AllowOverbooking = true

	require.NoError(t, cache.Set(context.Background(), cfg))

	got, err := cache.Get(context.Background(), cfg.PracticeID)
	require.NoError(t, err)
	assert.Equal(t, "+15559998888", got.TransferNumber)
	assert.True(t, got.AllowOverbooking)
}

func TestConfigCache_SetRejectsInvalidConfig(t *testing.T) {
	cache := NewConfigCache(setupTestRedis(t))
	cfg := DefaultConfig(uuid.New())
	cfg.SlotDurationMinutes = 1

	err := cache.Set(context.Background(), cfg)
	assert.Error(t, err)
}
