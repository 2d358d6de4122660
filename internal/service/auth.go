package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/rs/xid"

	"github.com/sakif/agent-library/internal/apperror"
	"github.com/sakif/agent-library/internal/auth"
	"github.com/sakif/agent-library/internal/model"
	"github.com/sakif/agent-library/internal/repository"
)

// Account field limits.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 40
	MinPasswordLength = 6
)

// AuthService handles registration, login and GitHub sign-in.
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository (DB)
//	                   ↘ TokenService (JWT), PasswordService (bcrypt)
type AuthService struct {
	users             repository.UserRepository
	tokens            *auth.TokenService
	passwords         *auth.PasswordService
	allowRegistration bool
	logger            *slog.Logger
}

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	allowRegistration bool,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:             users,
		tokens:            tokens,
		passwords:         passwords,
		allowRegistration: allowRegistration,
		logger:            logger,
	}
}

// AuthResult bundles the user and the issued token so the handler can
// respond (or set the cookie) in one step.
type AuthResult struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// RegisterInput is a sign-up request.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Register creates an email/password account and logs it in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	if !s.allowRegistration {
		return nil, apperror.Forbidden("Registration disabled")
	}

	username := strings.TrimSpace(in.Username)
	if n := utf8.RuneCountInString(username); n < MinUsernameLength || n > MaxUsernameLength {
		return nil, apperror.ValidationFailed("username",
			fmt.Sprintf("Username must be %d-%d characters", MinUsernameLength, MaxUsernameLength))
	}

	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}

	if len(in.Password) < MinPasswordLength {
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}
	if len(in.Password) > auth.MaxPasswordBytes {
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("Password must be %d bytes or fewer", auth.MaxPasswordBytes))
	}

	taken, err := s.users.ExistsByUsernameOrEmail(ctx, username, email)
	if err != nil {
		return nil, fmt.Errorf("service/auth: checking existing user: %w", err)
	}
	if taken {
		return nil, apperror.Conflict("Username or email already in use")
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		AvatarHue:    rand.IntN(360),
		Role:         model.RoleUser,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: creating user %s: %w", username, err)
	}

	s.logger.Info("user registered", slog.String("userID", user.ID), slog.String("username", user.Username))

	return s.issue(user)
}

// Login checks email and password. Unknown email and wrong password give
// the same error so the response does not reveal which accounts exist.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	invalid := apperror.Unauthorized("Invalid credentials")

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, invalid
		}
		return nil, fmt.Errorf("service/auth: looking up %s: %w", email, err)
	}

	// GitHub-only accounts have no password to log in with.
	if user.PasswordHash == "" {
		return nil, invalid
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, invalid
		}
		return nil, fmt.Errorf("service/auth: verifying password of %s: %w", user.ID, err)
	}

	return s.issue(user)
}

// Me returns the profile of the authenticated user.
func (s *AuthService) Me(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.Unauthorized("valid authentication required")
	}

	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", id, err)
	}
	return user, nil
}

// LoginWithGitHub signs in the owner of a GitHub profile:
//
//  1. an account already linked to the GitHub id, else
//  2. the account with the same email, which gets linked, else
//  3. a new account named after the GitHub login (suffixed when taken).
func (s *AuthService) LoginWithGitHub(ctx context.Context, gh *auth.GitHubUser) (*AuthResult, error) {
	if gh == nil || gh.ID == 0 {
		return nil, fmt.Errorf("service/auth: GitHub user must not be empty")
	}

	user, err := s.users.GetByGitHubID(ctx, gh.ID)
	if err == nil {
		return s.issue(user)
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/auth: looking up GitHub id %d: %w", gh.ID, err)
	}

	if gh.Email != "" {
		user, err = s.users.GetByEmail(ctx, gh.Email)
		switch {
		case err == nil:
			if err := s.users.LinkGitHub(ctx, user.ID, gh.ID); err != nil {
				return nil, fmt.Errorf("service/auth: linking GitHub id %d: %w", gh.ID, err)
			}
			s.logger.Info("GitHub account linked", slog.String("userID", user.ID), slog.Int64("githubID", gh.ID))
			return s.issue(user)
		case !errors.Is(err, apperror.ErrNotFound):
			return nil, fmt.Errorf("service/auth: looking up %s: %w", gh.Email, err)
		}
	}

	user, err = s.createGitHubUser(ctx, gh)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered via GitHub",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)
	return s.issue(user)
}

// PromoteAdmins gives the admin role to the accounts with the given emails.
// Emails without an account are ignored.
func (s *AuthService) PromoteAdmins(ctx context.Context, emails []string) error {
	for _, e := range emails {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if err := s.users.SetRoleByEmail(ctx, e, model.RoleAdmin); err != nil {
			return fmt.Errorf("service/auth: promoting %s: %w", e, err)
		}
	}
	return nil
}

func (s *AuthService) createGitHubUser(ctx context.Context, gh *auth.GitHubUser) (*model.User, error) {
	email := gh.Email
	if email == "" {
		// GitHub's own no-reply address format; unique per account.
		email = fmt.Sprintf("%d+%s@users.noreply.github.com", gh.ID, gh.Login)
	}

	githubID := gh.ID
	for _, username := range usernameCandidates(gh.Login) {
		taken, err := s.users.ExistsByUsernameOrEmail(ctx, username, email)
		if err != nil {
			return nil, fmt.Errorf("service/auth: checking username %s: %w", username, err)
		}
		if taken {
			continue
		}

		user := &model.User{
			Username:  username,
			Email:     email,
			AvatarHue: rand.IntN(360),
			Role:      model.RoleUser,
			GitHubID:  &githubID,
		}
		if err := s.users.Create(ctx, user); err != nil {
			if errors.Is(err, apperror.ErrConflict) {
				continue
			}
			return nil, fmt.Errorf("service/auth: creating GitHub user %s: %w", username, err)
		}
		return user, nil
	}

	return nil, apperror.Conflict("Could not find a free username for this GitHub account")
}

// usernameCandidates returns login, login-2 ... login-5 and a final random
// suffix, each fitted to the username length limits.
func usernameCandidates(login string) []string {
	base := strings.TrimSpace(login)
	for utf8.RuneCountInString(base) < MinUsernameLength {
		base += "_"
	}

	withSuffix := func(suffix string) string {
		return truncate(base, MaxUsernameLength-len(suffix)) + suffix
	}

	candidates := []string{withSuffix("")}
	for i := 2; i <= 5; i++ {
		candidates = append(candidates, withSuffix(fmt.Sprintf("-%d", i)))
	}
	return append(candidates, withSuffix("-"+xid.New().String()))
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}
	return &AuthResult{Token: token, User: user}, nil
}

// normalizeEmail accepts a bare address ("a@b.c", not "Name <a@b.c>") and
// returns it lowercased.
func normalizeEmail(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", apperror.ValidationFailed("email", "Valid email is required")
	}
	return strings.ToLower(trimmed), nil
}
