package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/agent-library/internal/apperror"
	"github.com/sakif/agent-library/internal/model"
	"github.com/sakif/agent-library/internal/repository"
)

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the users table.
type UserDB struct {
	conn *sql.DB
}

// Users returns the user repository.
func (db *DB) Users() *UserDB {
	return &UserDB{conn: db.conn}
}

const userSelect = `
	SELECT id, username, email, password_hash, bio, avatar_hue, role, github_id, created_at, updated_at
	FROM users`

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u        model.User
		role     string
		githubID sql.NullInt64
	)
	if err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Bio, &u.AvatarHue,
		&role, &githubID, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}

	u.Role = model.Role(role)
	if githubID.Valid {
		id := githubID.Int64
		u.GitHubID = &id
	}
	return &u, nil
}

// Create inserts a new user. Email is stored lowercased; an empty role
// becomes model.RoleUser.
//
// UNIQUE username/email violations come back as apperror.ErrConflict so the
// service can answer 409 even when two registrations race past its
// ExistsByUsernameOrEmail check.
func (s *UserDB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Role == "" {
		user.Role = model.RoleUser
	}

	var githubID sql.NullInt64
	if user.GitHubID != nil {
		githubID = sql.NullInt64{Int64: *user.GitHubID, Valid: true}
	}

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, bio, avatar_hue, role, github_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Bio,
		user.AvatarHue,
		string(user.Role),
		githubID,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("username or email already in use")
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Username, err)
	}

	return nil
}

func (s *UserDB) getOne(ctx context.Context, what string, where string, arg any) (*model.User, error) {
	u, err := scanUser(s.conn.QueryRowContext(ctx, userSelect+" WHERE "+where, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", fmt.Sprint(arg))
		}
		return nil, fmt.Errorf("sqlite: getting user by %s: %w", what, err)
	}
	return u, nil
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (s *UserDB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.getOne(ctx, "id", "id = ?", id)
}

// GetByEmail looks a user up by (case-insensitive) email address.
func (s *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.getOne(ctx, "email", "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

// GetByGitHubID finds the account linked to a GitHub user.
func (s *UserDB) GetByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	return s.getOne(ctx, "github id", "github_id = ?", githubID)
}

// ExistsByUsernameOrEmail reports whether the username or the email is taken.
func (s *UserDB) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	var exists bool
	err := s.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE username = ? OR email = ?)`,
		username, strings.ToLower(strings.TrimSpace(email)),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking existing user: %w", err)
	}
	return exists, nil
}

// LinkGitHub records the GitHub account of an existing user.
func (s *UserDB) LinkGitHub(ctx context.Context, userID string, githubID int64) error {
	result, err := s.conn.ExecContext(ctx,
		`UPDATE users SET github_id = ?, updated_at = ? WHERE id = ?`,
		githubID, time.Now().UTC(), userID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("GitHub account already linked to another user")
		}
		return fmt.Errorf("sqlite: linking GitHub account to %s: %w", userID, err)
	}
	return requireAffected(result, "user", userID)
}

// SetRoleByEmail changes a user's role. There is no HTTP route for it; the
// server promotes the accounts listed in ADMIN_EMAILS at startup.
func (s *UserDB) SetRoleByEmail(ctx context.Context, email string, role model.Role) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE users SET role = ?, updated_at = ? WHERE email = ?`,
		string(role), time.Now().UTC(), strings.ToLower(strings.TrimSpace(email)),
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting role of %s: %w", email, err)
	}
	return nil
}
