package handler

import (
	"context"
	"net/http"

	"github.com/sakif/agent-library/internal/model"
)

// FeaturedService is what FeaturedHandler needs from service.FeaturedService.
type FeaturedService interface {
	Get(ctx context.Context) (*model.FeaturedContent, error)
}

// FeaturedHandler serves the landing-page spotlight.
type FeaturedHandler struct {
	featured FeaturedService
}

func NewFeaturedHandler(featured FeaturedService) *FeaturedHandler {
	return &FeaturedHandler{featured: featured}
}

// HandleGet returns the current spotlight.
//
// HTTP: GET /api/featured
func (h *FeaturedHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	content, err := h.featured.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}
