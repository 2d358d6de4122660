// Package repository declares the persistence interfaces the services
// depend on. The sqlite subpackage implements them; service tests use
// in-memory fakes.
package repository

import (
	"context"

	"github.com/sakif/agent-library/internal/model"
)

// SortOrder selects the ordering of an agent file listing.
type SortOrder string

const (
	SortRecent  SortOrder = "recent"  // newest first
	SortPopular SortOrder = "popular" // most viewed first
	SortTop     SortOrder = "top"     // highest rated first
)

// AgentFilter narrows an agent file listing. Zero values mean "no filter".
type AgentFilter struct {
	Query   string // text search over title, description, content and tags
	Tag     string // exact (lowercase) tag
	OwnerID string
}

// ListOptions controls ordering and paging. Repositories clamp nothing;
// the service layer is responsible for sane limits.
type ListOptions struct {
	Sort   SortOrder
	Limit  int
	Offset int
}

// AgentFileRepository persists agent files.
//
// GetByID, List, ListByOwner and Sample return records with Owner populated.
type AgentFileRepository interface {
	Create(ctx context.Context, agent *model.AgentFile) error
	GetByID(ctx context.Context, id string) (*model.AgentFile, error)
	List(ctx context.Context, filter AgentFilter, opts ListOptions) ([]model.AgentFile, error)
	Count(ctx context.Context, filter AgentFilter) (int, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.AgentFile, error)
	// Update writes the mutable content fields: title, original filename,
	// description, tags, file path and content. Counters, rating fields and
	// the owner are never touched by Update.
	Update(ctx context.Context, agent *model.AgentFile) error
	Delete(ctx context.Context, id string) error
	// IncrementViews and IncrementCopies add one in a single statement and
	// return the new value.
	IncrementViews(ctx context.Context, id string) (int, error)
	IncrementCopies(ctx context.Context, id string) (int, error)
	// SetRating overwrites the derived rating fields. Only RatingService
	// calls this.
	SetRating(ctx context.Context, id string, stats model.RatingStats) error
	// Sample returns up to n records chosen uniformly at random.
	Sample(ctx context.Context, n int) ([]model.AgentFile, error)
}

// ReviewRepository persists reviews.
type ReviewRepository interface {
	// Upsert inserts the review or, when the (agent, user) pair already has
	// one, overwrites its rating and comment. review.ID and timestamps are
	// filled in from the stored row.
	Upsert(ctx context.Context, review *model.Review) error
	GetByID(ctx context.Context, id string) (*model.Review, error)
	ListByAgent(ctx context.Context, agentID string, limit int) ([]model.Review, error)
	Delete(ctx context.Context, id string) error
	// Ratings returns every rating value recorded for the agent file.
	Ratings(ctx context.Context, agentID string) ([]int, error)
}

// UserRepository persists user accounts.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByGitHubID(ctx context.Context, githubID int64) (*model.User, error)
	// ExistsByUsernameOrEmail reports whether either value is already taken.
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
	LinkGitHub(ctx context.Context, userID string, githubID int64) error
	// SetRoleByEmail changes the role of the account with that email. An
	// unknown email is not an error.
	SetRoleByEmail(ctx context.Context, email string, role model.Role) error
}
