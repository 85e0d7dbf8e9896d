package practice

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ConfigCache is a Redis-backed store for the PracticeConfig entity; it does
// not read the practice_configs table, and a key miss returns
// spec-compliant defaults. Grounded
// directly on the teacher's internal/clinic.Store (Get/Set, redis.Nil
// fallback, JSON marshal) generalized from a single flat clinic blob to the
// PracticeConfig entity.
type ConfigCache struct {
	redis *redis.Client
}

// NewConfigCache wraps a redis client.
func NewConfigCache(redisClient *redis.Client) *ConfigCache {
	return &ConfigCache{redis: redisClient}
}

func (c *ConfigCache) key(practiceID uuid.UUID) string {
	return fmt.Sprintf("practice:config:%s", practiceID)
}

// Get retrieves the config, returning a spec-compliant default on a miss.
func (c *ConfigCache) Get(ctx context.Context, practiceID uuid.UUID) (*Config, error) {
	data, err := c.redis.Get(ctx, c.key(practiceID)).Bytes()
	if err == redis.Nil {
		return DefaultConfig(practiceID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("practice: get config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("practice: unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Set writes the config, replacing whatever cache entry exists.
func (c *ConfigCache) Set(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("practice: marshal config: %w", err)
	}
	if err := c.redis.Set(ctx, c.key(cfg.PracticeID), data, 0).Err(); err != nil {
		return fmt.Errorf("practice: set config: %w", err)
	}
	return nil
}
