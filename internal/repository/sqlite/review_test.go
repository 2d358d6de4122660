package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/agent-library/internal/apperror"
	"github.com/sakif/agent-library/internal/model"
)

func TestReviewUpsert_InsertThenUpdate(t *testing.T) {
	db := newTestDB(t)
	owner := createTestUser(t, db, "owner")
	reviewer := createTestUser(t, db, "reviewer")
	agent := createTestAgent(t, db, owner, "rated")
	ctx := context.Background()

	first := &model.Review{AgentFileID: agent.ID, UserID: reviewer.ID, Rating: 2, Comment: "meh"}
	if err := db.Reviews().Upsert(ctx, first); err != nil {
		t.Fatalf("Upsert() first: %v", err)
	}
	if first.ID == "" {
		t.Fatal("Upsert() did not set review.ID")
	}

	second := &model.Review{AgentFileID: agent.ID, UserID: reviewer.ID, Rating: 5, Comment: "changed my mind"}
	if err := db.Reviews().Upsert(ctx, second); err != nil {
		t.Fatalf("Upsert() second: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("Upsert() changed review ID: got %q, want %q", second.ID, first.ID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("Upsert() changed CreatedAt: got %v, want %v", second.CreatedAt, first.CreatedAt)
	}

	reviews, err := db.Reviews().ListByAgent(ctx, agent.ID, 0)
	if err != nil {
		t.Fatalf("ListByAgent() error = %v", err)
	}
	if len(reviews) != 1 {
		t.Fatalf("ListByAgent() returned %d reviews, want 1", len(reviews))
	}
	if reviews[0].Rating != 5 || reviews[0].Comment != "changed my mind" {
		t.Errorf("review = %+v, want rating 5 with updated comment", reviews[0])
	}
	if reviews[0].User == nil || reviews[0].User.Username != "reviewer" {
		t.Errorf("User = %+v, want username reviewer", reviews[0].User)
	}
}

func TestReviewUpsert_RatingOutOfRange(t *testing.T) {
	db := newTestDB(t)
	owner := createTestUser(t, db, "owner")
	agent := createTestAgent(t, db, owner, "rated")

	err := db.Reviews().Upsert(context.Background(), &model.Review{AgentFileID: agent.ID, UserID: owner.ID, Rating: 6})
	if err == nil {
		t.Fatal("Upsert() accepted rating 6")
	}
}

func TestReviewListByAgent_NewestFirstWithLimit(t *testing.T) {
	db := newTestDB(t)
	owner := createTestUser(t, db, "owner")
	agent := createTestAgent(t, db, owner, "popular")
	ctx := context.Background()

	var last string
	for _, name := range []string{"r1", "r2", "r3"} {
		u := createTestUser(t, db, name)
		r := &model.Review{AgentFileID: agent.ID, UserID: u.ID, Rating: 4}
		if err := db.Reviews().Upsert(ctx, r); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		last = r.ID
	}

	reviews, err := db.Reviews().ListByAgent(ctx, agent.ID, 2)
	if err != nil {
		t.Fatalf("ListByAgent() error = %v", err)
	}
	if len(reviews) != 2 {
		t.Fatalf("ListByAgent() returned %d reviews, want 2", len(reviews))
	}
	if reviews[0].ID != last {
		t.Errorf("first review = %s, want newest %s", reviews[0].ID, last)
	}
}

func TestReviewRatingsAndDelete(t *testing.T) {
	db := newTestDB(t)
	owner := createTestUser(t, db, "owner")
	other := createTestUser(t, db, "other")
	agent := createTestAgent(t, db, owner, "rated")
	ctx := context.Background()

	a := &model.Review{AgentFileID: agent.ID, UserID: owner.ID, Rating: 4}
	b := &model.Review{AgentFileID: agent.ID, UserID: other.ID, Rating: 5}
	for _, r := range []*model.Review{a, b} {
		if err := db.Reviews().Upsert(ctx, r); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	ratings, err := db.Reviews().Ratings(ctx, agent.ID)
	if err != nil {
		t.Fatalf("Ratings() error = %v", err)
	}
	if sum := sumInts(ratings); len(ratings) != 2 || sum != 9 {
		t.Errorf("Ratings() = %v, want two ratings summing to 9", ratings)
	}

	if err := db.Reviews().Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	ratings, err = db.Reviews().Ratings(ctx, agent.ID)
	if err != nil {
		t.Fatalf("Ratings() after delete error = %v", err)
	}
	if len(ratings) != 1 || ratings[0] != 5 {
		t.Errorf("Ratings() after delete = %v, want [5]", ratings)
	}

	if err := db.Reviews().Delete(ctx, a.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestReviewRatings_NoReviews(t *testing.T) {
	db := newTestDB(t)

	ratings, err := db.Reviews().Ratings(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Ratings() error = %v", err)
	}
	if ratings == nil || len(ratings) != 0 {
		t.Errorf("Ratings() = %#v, want empty non-nil slice", ratings)
	}
}

func sumInts(xs []int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}
