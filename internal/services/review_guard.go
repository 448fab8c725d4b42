package services

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/comport/pkg/models"
)

var ErrReviewRejected = errors.New("review rejected as likely spam")

const (
	rapidReviewWindow    = time.Minute
	maxReviewsPerWindow  = 5
	duplicateTextWindow  = time.Hour
	maxDuplicateComments = 3
)

// ReviewGuard flags review floods using counters in the hot Redis tier. A
// review is rejected when the user posts too fast or the same comment text
// keeps appearing across products. Without Redis every review passes.
type ReviewGuard struct {
	redisClient *redis.Client
	logger      *logrus.Logger
}

func NewReviewGuard(redisClient *redis.Client, logger *logrus.Logger) *ReviewGuard {
	return &ReviewGuard{redisClient: redisClient, logger: logger}
}

// Check returns ErrReviewRejected when both a burst and a repeated comment
// are detected, or when either is far over its limit.
func (g *ReviewGuard) Check(ctx context.Context, userID uuid.UUID, req *models.CreateReviewRequest) error {
	if g == nil || g.redisClient == nil {
		return nil
	}

	burst, err := g.recentReviews(ctx, userID)
	if err != nil {
		g.logger.WithError(err).Warn("Review guard: burst check failed")
		return nil
	}
	dupes, err := g.commentOccurrences(ctx, req.Comment)
	if err != nil {
		g.logger.WithError(err).Warn("Review guard: duplicate check failed")
		return nil
	}

	flags := 0
	if burst > maxReviewsPerWindow {
		flags++
	}
	if dupes > maxDuplicateComments {
		flags++
	}
	if flags >= 2 || burst > 2*maxReviewsPerWindow || dupes > 2*maxDuplicateComments {
		g.logger.WithFields(logrus.Fields{
			"user_id":    userID,
			"burst":      burst,
			"duplicates": dupes,
		}).Warn("Review rejected")
		return ErrReviewRejected
	}
	return nil
}

// recentReviews records this attempt and returns the number of attempts by
// the user inside the rapid window, this one included.
func (g *ReviewGuard) recentReviews(ctx context.Context, userID uuid.UUID) (int64, error) {
	key := fmt.Sprintf("review_guard:rapid:%s", userID)
	now := time.Now()

	pipe := g.redisClient.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(now.Add(-rapidReviewWindow).UnixNano(), 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: strconv.FormatInt(now.UnixNano(), 10)})
	count := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, 5*rapidReviewWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return count.Val(), nil
}

func (g *ReviewGuard) commentOccurrences(ctx context.Context, comment string) (int64, error) {
	key := fmt.Sprintf("review_guard:content:%s", commentFingerprint(comment))

	count, err := g.redisClient.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		g.redisClient.Expire(ctx, key, duplicateTextWindow)
	}
	return count, nil
}

// commentFingerprint hashes the comment with case and whitespace folded.
func commentFingerprint(comment string) string {
	folded := strings.Join(strings.Fields(strings.ToLower(comment)), " ")
	return fmt.Sprintf("%x", md5.Sum([]byte(folded)))
}
