package middleware

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// CacheConfig represents cache configuration
type CacheConfig struct {
	TTL       time.Duration
	MaxSize   int
	KeyPrefix string
}

type cachedResponse struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// ResponseCache caches successful GET responses in Redis. Responses are not
// personalised, so the key covers only the path and query string. A nil
// client disables caching.
func ResponseCache(client *redis.Client, cfg CacheConfig, logger *logrus.Logger) gin.HandlerFunc {
	if client == nil {
		return func(c *gin.Context) { c.Next() }
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "http_cache"
	}

	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := cacheKey(cfg.KeyPrefix, c.Request.URL.Path, c.Request.URL.RawQuery)
		if data, err := client.Get(c.Request.Context(), key).Bytes(); err == nil {
			var cached cachedResponse
			if err := json.Unmarshal(data, &cached); err == nil {
				c.Header("X-Cache", "HIT")
				c.Data(cached.StatusCode, cached.ContentType, cached.Body)
				c.Abort()
				return
			}
		}

		writer := &cacheWriter{ResponseWriter: c.Writer}
		c.Writer = writer
		c.Header("X-Cache", "MISS")

		c.Next()

		status := writer.Status()
		if status < 200 || status >= 300 || writer.body.Len() == 0 {
			return
		}
		if cfg.MaxSize > 0 && writer.body.Len() > cfg.MaxSize {
			return
		}

		data, err := json.Marshal(cachedResponse{
			StatusCode:  status,
			ContentType: writer.Header().Get("Content-Type"),
			Body:        writer.body.Bytes(),
		})
		if err != nil {
			return
		}
		if err := client.Set(c.Request.Context(), key, data, cfg.TTL).Err(); err != nil {
			logger.WithError(err).WithField("cache_key", key).Warn("Failed to cache response")
		}
	}
}

// InvalidateCache drops every cached response under prefix after a
// successful write request.
func InvalidateCache(client *redis.Client, prefix string, logger *logrus.Logger) gin.HandlerFunc {
	if client == nil {
		return func(c *gin.Context) { c.Next() }
	}
	if prefix == "" {
		prefix = "http_cache"
	}

	return func(c *gin.Context) {
		c.Next()

		if c.Request.Method == http.MethodGet || c.Writer.Status() >= 400 {
			return
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 5*time.Second)
		defer cancel()

		var cursor uint64
		deleted := 0
		for {
			keys, next, err := client.Scan(ctx, cursor, prefix+":*", 100).Result()
			if err != nil {
				logger.WithError(err).Warn("Failed to scan cached responses")
				return
			}
			if len(keys) > 0 {
				if err := client.Del(ctx, keys...).Err(); err != nil {
					logger.WithError(err).Warn("Failed to invalidate cached responses")
					return
				}
				deleted += len(keys)
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
		if deleted > 0 {
			logger.WithField("count", deleted).Debug("Invalidated cached responses")
		}
	}
}

type cacheWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *cacheWriter) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

func (w *cacheWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

func cacheKey(prefix, path, query string) string {
	hash := md5.Sum([]byte(strings.Join([]string{path, query}, "?")))
	return fmt.Sprintf("%s:%x", prefix, hash)
}
