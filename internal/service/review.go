package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sakif/agent-library/internal/apperror"
	"github.com/sakif/agent-library/internal/model"
	"github.com/sakif/agent-library/internal/repository"
)

// MaxCommentLength caps review comments, in characters.
const MaxCommentLength = 500

// ReviewService handles ratings and comments.
type ReviewService struct {
	reviews repository.ReviewRepository
	agents  repository.AgentFileRepository
	ratings *RatingService
	logger  *slog.Logger
}

// NewReviewService creates a ReviewService.
func NewReviewService(
	reviews repository.ReviewRepository,
	agents repository.AgentFileRepository,
	ratings *RatingService,
	logger *slog.Logger,
) *ReviewService {
	return &ReviewService{reviews: reviews, agents: agents, ratings: ratings, logger: logger}
}

// UpsertReviewInput is a review submission.
type UpsertReviewInput struct {
	AgentID string
	UserID  string
	Rating  int
	Comment string
}

// ReviewResult is the saved review and the agent's new rating.
type ReviewResult struct {
	Review *model.Review     `json:"review"`
	Rating model.RatingStats `json:"rating"`
}

// Upsert records the user's review of an agent file. A user has at most one
// review per file; submitting again overwrites rating and comment.
func (s *ReviewService) Upsert(ctx context.Context, in UpsertReviewInput) (*ReviewResult, error) {
	agentID := strings.TrimSpace(in.AgentID)
	if agentID == "" {
		return nil, apperror.ValidationFailed("agentId", "agentId is required")
	}
	if in.Rating < 1 || in.Rating > 5 {
		return nil, apperror.ValidationFailed("rating", "Rating must be between 1 and 5")
	}
	comment := strings.TrimSpace(in.Comment)
	if utf8.RuneCountInString(comment) > MaxCommentLength {
		return nil, apperror.ValidationFailed("comment", "Comment too long")
	}

	if _, err := s.agents.GetByID(ctx, agentID); err != nil {
		return nil, fmt.Errorf("service/review: loading agent file %s: %w", agentID, err)
	}

	review := &model.Review{
		AgentFileID: agentID,
		UserID:      in.UserID,
		Rating:      in.Rating,
		Comment:     comment,
	}
	if err := s.reviews.Upsert(ctx, review); err != nil {
		return nil, fmt.Errorf("service/review: saving review: %w", err)
	}

	saved, err := s.reviews.GetByID(ctx, review.ID)
	if err != nil {
		return nil, fmt.Errorf("service/review: reloading review %s: %w", review.ID, err)
	}

	stats, err := s.ratings.Recalculate(ctx, agentID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("review saved",
		slog.String("agentFile", agentID),
		slog.String("user", in.UserID),
		slog.Int("rating", in.Rating),
	)

	return &ReviewResult{Review: saved, Rating: stats}, nil
}

// Delete removes a review. Only its author may do so; admins are not
// exempt.
func (s *ReviewService) Delete(ctx context.Context, reviewID string, requester model.Identity) (model.RatingStats, error) {
	review, err := s.reviews.GetByID(ctx, reviewID)
	if err != nil {
		return model.RatingStats{}, fmt.Errorf("service/review: loading review %s: %w", reviewID, err)
	}

	if requester.ID == "" || review.UserID != requester.ID {
		return model.RatingStats{}, apperror.Forbidden("You can only remove your own feedback")
	}

	if err := s.reviews.Delete(ctx, reviewID); err != nil {
		return model.RatingStats{}, fmt.Errorf("service/review: deleting review %s: %w", reviewID, err)
	}

	return s.ratings.Recalculate(ctx, review.AgentFileID)
}
