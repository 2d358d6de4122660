package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sakif/agent-library/internal/model"
	"github.com/sakif/agent-library/internal/repository"
)

// DefaultFeaturedRefresh is how long one spotlight stays up.
const DefaultFeaturedRefresh = 168 * time.Hour

const youtubeEmbedURL = "https://www.youtube.com/embed/%s"

var (
	featuredCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_library_featured_cache_hits_total",
		Help: "Featured content requests answered from the cache.",
	})
	featuredCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_library_featured_cache_misses_total",
		Help: "Featured content requests that picked a new spotlight.",
	})
)

// RandomSource picks an index in [0, n). It must be safe for concurrent use.
type RandomSource interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// FeaturedConfig configures a FeaturedService. Zero values get defaults:
// DefaultFeaturedRefresh, time.Now and math/rand/v2.
type FeaturedConfig struct {
	Refresh  time.Duration
	VideoIDs []string
	Now      func() time.Time
	Rand     RandomSource
}

// FeaturedService picks the landing-page spotlight: one random agent file
// and one random configured video, kept for the refresh window.
//
// The cached value is an immutable snapshot behind an atomic pointer.
// Concurrent requests that find it stale may both pick a new one; the last
// store wins.
type FeaturedService struct {
	agents   repository.AgentFileRepository
	refresh  time.Duration
	videoIDs []string
	now      func() time.Time
	rand     RandomSource
	logger   *slog.Logger

	cached atomic.Pointer[model.FeaturedContent]
}

// NewFeaturedService creates a FeaturedService with an empty cache.
func NewFeaturedService(agents repository.AgentFileRepository, cfg FeaturedConfig, logger *slog.Logger) *FeaturedService {
	s := &FeaturedService{
		agents:  agents,
		refresh: cfg.Refresh,
		now:     cfg.Now,
		rand:    cfg.Rand,
		logger:  logger,
	}
	if s.refresh <= 0 {
		s.refresh = DefaultFeaturedRefresh
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.rand == nil {
		s.rand = globalRand{}
	}
	for _, id := range cfg.VideoIDs {
		if id = strings.TrimSpace(id); id != "" {
			s.videoIDs = append(s.videoIDs, id)
		}
	}
	return s
}

// Get returns the current spotlight, picking a new one when the cached one
// is older than the refresh window. Callers must not modify the result.
func (s *FeaturedService) Get(ctx context.Context) (*model.FeaturedContent, error) {
	now := s.now()

	if c := s.cached.Load(); c != nil && now.Sub(c.GeneratedAt) < s.refresh {
		featuredCacheHits.Inc()
		return c, nil
	}
	featuredCacheMisses.Inc()

	sample, err := s.agents.Sample(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("service/featured: sampling agent file: %w", err)
	}

	fresh := &model.FeaturedContent{GeneratedAt: now}
	if len(sample) > 0 {
		fresh.Agent = &sample[0]
	}
	if len(s.videoIDs) > 0 {
		id := s.videoIDs[s.rand.IntN(len(s.videoIDs))]
		fresh.Video = &model.Video{VideoID: id, EmbedURL: fmt.Sprintf(youtubeEmbedURL, id)}
	}

	s.cached.Store(fresh)

	s.logger.Debug("featured content refreshed", slog.Time("generatedAt", now))
	return fresh, nil
}
