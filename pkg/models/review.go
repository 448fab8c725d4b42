package models

import (
	"time"

	"github.com/google/uuid"
)

// ComfortRatings are optional 1-5 sub-ratings attached to a review.
type ComfortRatings struct {
	Ease        *int `json:"ease,omitempty" validate:"omitempty,min=1,max=5"`
	Performance *int `json:"performance,omitempty" validate:"omitempty,min=1,max=5"`
	Noise       *int `json:"noise,omitempty" validate:"omitempty,min=1,max=5"`
	Temperature *int `json:"temperature,omitempty" validate:"omitempty,min=1,max=5"`
}

// Review is a platform review. At most one exists per (user, product).
type Review struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	UserID         uuid.UUID      `json:"user_id" db:"user_id"`
	ProductID      uuid.UUID      `json:"product_id" db:"product_id"`
	Rating         int            `json:"rating" db:"rating"`
	Comment        string         `json:"comment" db:"comment"`
	ComfortRatings ComfortRatings `json:"comfort_ratings" db:"comfort_ratings"`
	Helpful        int            `json:"helpful" db:"helpful"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

type CreateReviewRequest struct {
	Rating         int            `json:"rating" validate:"required,min=1,max=5"`
	Comment        string         `json:"comment" validate:"required,min=1,max=500"`
	ComfortRatings ComfortRatings `json:"comfort_ratings"`
}
