package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/comport/pkg/models"
)

// ScoreCache keeps per-product comfort scores in the warm Redis tier. Entries
// are stored as fields of a per-product hash keyed by model version, so a
// retrained model never serves scores computed by its predecessor and a
// catalog change drops every version at once.
type ScoreCache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// NewScoreCache returns a cache backed by client. A nil client disables caching.
func NewScoreCache(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *ScoreCache {
	return &ScoreCache{redis: client, ttl: ttl, logger: logger}
}

func scoreCacheKey(productID uuid.UUID) string {
	return fmt.Sprintf("comfort:%s", productID)
}

func (c *ScoreCache) Get(ctx context.Context, productID uuid.UUID, version string) (*models.ComfortScore, bool) {
	if c == nil || c.redis == nil {
		return nil, false
	}

	raw, err := c.redis.HGet(ctx, scoreCacheKey(productID), version).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).Warn("Failed to read cached comfort score")
		}
		return nil, false
	}

	var score models.ComfortScore
	if err := json.Unmarshal(raw, &score); err != nil {
		return nil, false
	}
	return &score, true
}

func (c *ScoreCache) Set(ctx context.Context, productID uuid.UUID, version string, score *models.ComfortScore) {
	if c == nil || c.redis == nil || score == nil {
		return
	}

	data, err := json.Marshal(score)
	if err != nil {
		return
	}

	key := scoreCacheKey(productID)
	pipe := c.redis.Pipeline()
	pipe.HSet(ctx, key, version, data)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.WithError(err).Warn("Failed to cache comfort score")
	}
}

// Invalidate drops every cached version for the given products.
func (c *ScoreCache) Invalidate(ctx context.Context, productIDs ...uuid.UUID) {
	if c == nil || c.redis == nil || len(productIDs) == 0 {
		return
	}

	keys := make([]string, len(productIDs))
	for i, id := range productIDs {
		keys[i] = scoreCacheKey(id)
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.WithError(err).Warn("Failed to invalidate cached comfort scores")
	}
}
