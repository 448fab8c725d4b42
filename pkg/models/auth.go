package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type JWTClaims struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username,omitempty"`
	Role     string    `json:"role"` // user, admin
	jwt.RegisteredClaims
}

type AuthRequest struct {
	APIKey   string    `json:"api_key" validate:"required"`
	UserID   uuid.UUID `json:"user_id" validate:"required"`
	Username string    `json:"username,omitempty" validate:"omitempty,max=64"`
}

type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Role      string    `json:"role"`
}

type RateLimitInfo struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	ResetTime int64 `json:"reset_time"`
}
