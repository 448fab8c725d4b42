package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/comport/internal/config"
	"github.com/temcen/comport/pkg/models"
)

// RateLimitService enforces a sliding window per client in the hot Redis
// tier. Without Redis, or when Redis fails, requests are allowed.
type RateLimitService struct {
	config      *config.Config
	logger      *logrus.Logger
	redisClient *redis.Client
}

func NewRateLimitService(cfg *config.Config, logger *logrus.Logger, redisClient *redis.Client) *RateLimitService {
	return &RateLimitService{
		config:      cfg,
		logger:      logger,
		redisClient: redisClient,
	}
}

func (s *RateLimitService) CheckLimit(ctx context.Context, clientID, role string) (*models.RateLimitInfo, error) {
	limit := s.limitForRole(role)
	window := s.config.Auth.RateLimit.Window
	now := time.Now()

	permissive := &models.RateLimitInfo{
		Limit:     limit,
		Remaining: limit - 1,
		ResetTime: now.Add(window).Unix(),
	}
	if s.redisClient == nil {
		return permissive, nil
	}

	key := fmt.Sprintf("rate_limit:%s", clientID)
	windowStart := now.Add(-window)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pipe := s.redisClient.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to execute rate limit pipeline")
		return permissive, nil
	}

	// count excludes the request just added
	remaining := limit - int(countCmd.Val()) - 1
	if remaining < -1 {
		remaining = -1
	}

	return &models.RateLimitInfo{
		Limit:     limit,
		Remaining: remaining,
		ResetTime: now.Add(window).Unix(),
	}, nil
}

// IsAllowed reports whether the request fits in the client's window.
// Remaining in the returned info is never negative.
func (s *RateLimitService) IsAllowed(ctx context.Context, clientID, role string) (bool, *models.RateLimitInfo, error) {
	info, err := s.CheckLimit(ctx, clientID, role)
	if err != nil {
		return false, nil, err
	}

	allowed := info.Remaining >= 0
	if info.Remaining < 0 {
		info.Remaining = 0
	}
	return allowed, info, nil
}

func (s *RateLimitService) limitForRole(role string) int {
	if role == RoleAdmin {
		return s.config.Auth.RateLimit.Admin
	}
	return s.config.Auth.RateLimit.Default
}
