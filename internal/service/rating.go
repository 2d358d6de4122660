package service

import (
	"context"
	"fmt"

	"github.com/sakif/agent-library/internal/model"
	"github.com/sakif/agent-library/internal/repository"
)

// RatingService keeps the derived rating fields of agent files in step with
// their reviews. It is the only writer of those fields.
type RatingService struct {
	agents  repository.AgentFileRepository
	reviews repository.ReviewRepository
}

// NewRatingService creates a RatingService.
func NewRatingService(agents repository.AgentFileRepository, reviews repository.ReviewRepository) *RatingService {
	return &RatingService{agents: agents, reviews: reviews}
}

// Recalculate recomputes count and mean (two decimals) of the agent's
// review ratings and overwrites the stored values. No reviews means 0/0.
//
// Concurrent recalculations of the same file may interleave; each one
// writes a full snapshot, and the next review mutation corrects any stale
// one.
func (s *RatingService) Recalculate(ctx context.Context, agentID string) (model.RatingStats, error) {
	ratings, err := s.reviews.Ratings(ctx, agentID)
	if err != nil {
		return model.RatingStats{}, fmt.Errorf("service/rating: reading ratings of %s: %w", agentID, err)
	}

	stats := aggregate(ratings)

	if err := s.agents.SetRating(ctx, agentID, stats); err != nil {
		return model.RatingStats{}, fmt.Errorf("service/rating: storing rating of %s: %w", agentID, err)
	}

	return stats, nil
}

func aggregate(ratings []int) model.RatingStats {
	if len(ratings) == 0 {
		return model.RatingStats{}
	}
	sum := 0
	for _, r := range ratings {
		sum += r
	}
	return model.RatingStats{
		RatingAverage: round2(float64(sum) / float64(len(ratings))),
		RatingCount:   len(ratings),
	}
}
