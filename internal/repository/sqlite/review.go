package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/agent-library/internal/apperror"
	"github.com/sakif/agent-library/internal/model"
	"github.com/sakif/agent-library/internal/repository"
)

var _ repository.ReviewRepository = (*ReviewDB)(nil)

// ReviewDB is the reviews table.
type ReviewDB struct {
	conn *sql.DB
}

// Reviews returns the review repository.
func (db *DB) Reviews() *ReviewDB {
	return &ReviewDB{conn: db.conn}
}

const reviewSelect = `
	SELECT r.id, r.agent_file_id, r.user_id, r.rating, r.comment, r.created_at, r.updated_at,
	       COALESCE(u.username, ''), COALESCE(u.avatar_hue, 0)
	FROM reviews r
	LEFT JOIN users u ON u.id = r.user_id`

func scanReview(row rowScanner) (*model.Review, error) {
	var (
		r    model.Review
		user model.UserSummary
	)
	if err := row.Scan(
		&r.ID, &r.AgentFileID, &r.UserID, &r.Rating, &r.Comment, &r.CreatedAt, &r.UpdatedAt,
		&user.Username, &user.AvatarHue,
	); err != nil {
		return nil, err
	}
	user.ID = r.UserID
	r.User = &user
	return &r, nil
}

// Upsert inserts a review or updates the existing one for the same
// (agent file, user) pair.
//
// ON CONFLICT ... DO UPDATE:
// The UNIQUE(agent_file_id, user_id) constraint does the "does a review
// already exist?" check inside SQLite, in the same statement as the write.
// Two quick submissions from the same user therefore end up as one row with
// the later values, never as two rows.
//
// RETURNING id gives back the freshly generated id on insert and the
// original id on update. created_at is read back separately so it is parsed
// through the column's declared DATETIME type.
func (s *ReviewDB) Upsert(ctx context.Context, review *model.Review) error {
	now := time.Now().UTC()

	err := s.conn.QueryRowContext(ctx,
		`INSERT INTO reviews (id, agent_file_id, user_id, rating, comment, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (agent_file_id, user_id) DO UPDATE
		 SET rating = excluded.rating, comment = excluded.comment, updated_at = excluded.updated_at
		 RETURNING id`,
		xid.New().String(),
		review.AgentFileID,
		review.UserID,
		review.Rating,
		review.Comment,
		now,
		now,
	).Scan(&review.ID)
	if err != nil {
		return fmt.Errorf("sqlite: upserting review of %s by %s: %w", review.AgentFileID, review.UserID, err)
	}

	err = s.conn.QueryRowContext(ctx,
		`SELECT created_at FROM reviews WHERE id = ?`, review.ID,
	).Scan(&review.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: reading review %s: %w", review.ID, err)
	}

	review.UpdatedAt = now
	return nil
}

// GetByID retrieves a review with its author summary.
func (s *ReviewDB) GetByID(ctx context.Context, id string) (*model.Review, error) {
	review, err := scanReview(s.conn.QueryRowContext(ctx, reviewSelect+` WHERE r.id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("review", id)
		}
		return nil, fmt.Errorf("sqlite: getting review %s: %w", id, err)
	}
	return review, nil
}

// ListByAgent returns the newest reviews of an agent file.
func (s *ReviewDB) ListByAgent(ctx context.Context, agentID string, limit int) ([]model.Review, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.conn.QueryContext(ctx,
		reviewSelect+` WHERE r.agent_file_id = ? ORDER BY r.created_at DESC, r.id DESC LIMIT ?`,
		agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing reviews of %s: %w", agentID, err)
	}
	defer rows.Close()

	reviews := []model.Review{}
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning review row: %w", err)
		}
		reviews = append(reviews, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating reviews: %w", err)
	}
	return reviews, nil
}

// Delete removes a review by id.
func (s *ReviewDB) Delete(ctx context.Context, id string) error {
	result, err := s.conn.ExecContext(ctx, `DELETE FROM reviews WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting review %s: %w", id, err)
	}
	return requireAffected(result, "review", id)
}

// Ratings returns every rating recorded for agentID.
func (s *ReviewDB) Ratings(ctx context.Context, agentID string) ([]int, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT rating FROM reviews WHERE agent_file_id = ?`, agentID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: reading ratings of %s: %w", agentID, err)
	}
	defer rows.Close()

	ratings := []int{}
	for rows.Next() {
		var r int
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("sqlite: scanning rating: %w", err)
		}
		ratings = append(ratings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating ratings: %w", err)
	}
	return ratings, nil
}
