package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/temcen/comport/pkg/models"
)

func TestReviewGuard_WithoutRedisAllowsEverything(t *testing.T) {
	req := &models.CreateReviewRequest{Rating: 5, Comment: "great"}

	var unset *ReviewGuard
	assert.NoError(t, unset.Check(context.Background(), uuid.New(), req))

	g := NewReviewGuard(nil, testLogger())
	for i := 0; i < 20; i++ {
		assert.NoError(t, g.Check(context.Background(), uuid.New(), req))
	}
}

func TestCommentFingerprint_FoldsCaseAndSpacing(t *testing.T) {
	assert.Equal(t, commentFingerprint("Quiet  and cool"), commentFingerprint(" quiet and\tCOOL "))
	assert.NotEqual(t, commentFingerprint("quiet and cool"), commentFingerprint("loud and hot"))
}
