package services

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/comport/internal/config"
	"github.com/temcen/comport/pkg/models"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	tokenIssuer = "comport"
)

type AuthService struct {
	config      *config.Config
	logger      *logrus.Logger
	redisClient *redis.Client
	jwtSecret   []byte
}

// NewAuthService issues and validates JWTs. With a Redis client, tokens are
// also tracked as sessions so they can be revoked; without one a token is
// valid until it expires.
func NewAuthService(cfg *config.Config, logger *logrus.Logger, redisClient *redis.Client) *AuthService {
	return &AuthService{
		config:      cfg,
		logger:      logger,
		redisClient: redisClient,
		jwtSecret:   []byte(cfg.Auth.JWTSecret),
	}
}

func sessionKey(userID uuid.UUID) string {
	return fmt.Sprintf("session:%s", userID.String())
}

// IssueToken exchanges an API key for a token carrying the key's role.
func (s *AuthService) IssueToken(ctx context.Context, req *models.AuthRequest) (*models.AuthResponse, error) {
	role, err := s.ValidateAPIKey(req.APIKey)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.GenerateToken(ctx, req.UserID, req.Username, role)
	if err != nil {
		return nil, err
	}
	return &models.AuthResponse{Token: token, ExpiresAt: expiresAt, Role: role}, nil
}

func (s *AuthService) GenerateToken(ctx context.Context, userID uuid.UUID, username, role string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.config.Auth.TokenTTL)
	claims := &models.JWTClaims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	if s.redisClient != nil {
		if err := s.redisClient.Set(ctx, sessionKey(userID), tokenString, s.config.Auth.TokenTTL).Err(); err != nil {
			// Don't fail token generation if Redis is down
			s.logger.WithError(err).Warn("Failed to store session in Redis")
		}
	}

	return tokenString, expiresAt, nil
}

func (s *AuthService) ValidateToken(ctx context.Context, tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Role != RoleUser && claims.Role != RoleAdmin {
		return nil, fmt.Errorf("unknown role %q", claims.Role)
	}

	if s.redisClient == nil {
		return claims, nil
	}

	exists, err := s.redisClient.Exists(ctx, sessionKey(claims.UserID)).Result()
	if err != nil {
		// Continue validation even if Redis is down
		s.logger.WithError(err).Warn("Failed to check session in Redis")
	} else if exists == 0 {
		return nil, fmt.Errorf("session not found or expired")
	}

	return claims, nil
}

func (s *AuthService) RevokeToken(ctx context.Context, userID uuid.UUID) error {
	if s.redisClient == nil {
		return fmt.Errorf("session revocation requires redis")
	}
	if err := s.redisClient.Del(ctx, sessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// ValidateAPIKey maps a configured API key to its role.
func (s *AuthService) ValidateAPIKey(apiKey string) (string, error) {
	if apiKey == "" {
		return "", fmt.Errorf("invalid API key")
	}
	for _, key := range s.config.Auth.AdminKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			return RoleAdmin, nil
		}
	}
	for _, key := range s.config.Auth.APIKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			return RoleUser, nil
		}
	}
	return "", fmt.Errorf("invalid API key")
}
