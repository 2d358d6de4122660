package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/agent-library/internal/auth"
	"github.com/sakif/agent-library/internal/model"
	"github.com/sakif/agent-library/internal/service"
)

// ReviewService is what ReviewHandler needs from service.ReviewService.
type ReviewService interface {
	Upsert(ctx context.Context, in service.UpsertReviewInput) (*service.ReviewResult, error)
	Delete(ctx context.Context, reviewID string, requester model.Identity) (model.RatingStats, error)
}

// ReviewHandler serves /api/reviews.
type ReviewHandler struct {
	reviews ReviewService
	logger  *slog.Logger
}

// NewReviewHandler creates a ReviewHandler.
func NewReviewHandler(reviews ReviewService, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{reviews: reviews, logger: logger}
}

type reviewRequest struct {
	AgentID string `json:"agentId"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// HandleUpsert creates or replaces the caller's review of an agent file.
//
// HTTP: POST /api/reviews
// REQUEST BODY: {"agentId": "...", "rating": 1-5, "comment": "..."}
func (h *ReviewHandler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	id, _ := auth.IdentityFromContext(r.Context())
	res, err := h.reviews.Upsert(r.Context(), service.UpsertReviewInput{
		AgentID: req.AgentID,
		UserID:  id.ID,
		Rating:  req.Rating,
		Comment: req.Comment,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type deleteReviewResponse struct {
	Message string            `json:"message"`
	Rating  model.RatingStats `json:"rating"`
}

// HandleDelete removes the caller's review.
//
// HTTP: DELETE /api/reviews/{id}
func (h *ReviewHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	stats, err := h.reviews.Delete(r.Context(), r.PathValue("id"), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteReviewResponse{Message: "Review removed", Rating: stats})
}
