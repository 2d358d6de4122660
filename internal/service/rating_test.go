package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/agent-library/internal/model"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name    string
		ratings []int
		want    model.RatingStats
	}{
		{"none", nil, model.RatingStats{}},
		{"one", []int{5}, model.RatingStats{RatingAverage: 5, RatingCount: 1}},
		{"whole mean", []int{5, 4, 3}, model.RatingStats{RatingAverage: 4, RatingCount: 3}},
		{"rounded to two places", []int{5, 4, 4}, model.RatingStats{RatingAverage: 4.33, RatingCount: 3}},
		{"rounds half up", []int{1, 2, 2, 2, 2, 2, 2, 2}, model.RatingStats{RatingAverage: 1.88, RatingCount: 8}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, aggregate(tt.ratings))
		})
	}
}

func TestRecalculate_FollowsReviews(t *testing.T) {
	ctx := context.Background()
	agents := newFakeAgentRepo()
	reviews := newFakeReviewRepo()
	agents.put(model.AgentFile{ID: "a"})
	svc := NewRatingService(agents, reviews)

	for i, r := range []int{5, 4, 3} {
		require.NoError(t, reviews.Upsert(ctx, &model.Review{
			AgentFileID: "a",
			UserID:      string(rune('x' + i)),
			Rating:      r,
		}))
	}

	stats, err := svc.Recalculate(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.RatingStats{RatingAverage: 4, RatingCount: 3}, stats)
	assert.Equal(t, 4.0, agents.stored("a").RatingAverage)
	assert.Equal(t, 3, agents.stored("a").RatingCount)

	// Remove the 3.
	require.NoError(t, reviews.Delete(ctx, "review-3"))
	stats, err = svc.Recalculate(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.RatingStats{RatingAverage: 4.5, RatingCount: 2}, stats)

	require.NoError(t, reviews.Delete(ctx, "review-1"))
	require.NoError(t, reviews.Delete(ctx, "review-2"))
	stats, err = svc.Recalculate(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.RatingStats{}, stats)
	assert.Zero(t, agents.stored("a").RatingCount)
}

func TestRecalculate_MissingAgent(t *testing.T) {
	svc := NewRatingService(newFakeAgentRepo(), newFakeReviewRepo())

	_, err := svc.Recalculate(context.Background(), "missing")
	assert.Error(t, err)
}
