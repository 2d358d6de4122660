package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/agent-library/internal/apperror"
	"github.com/sakif/agent-library/internal/model"
)

// CookieName is the HttpOnly cookie the GitHub callback stores the token in.
const CookieName = "token"

// contextKey is an unexported type used for context keys in this package.
// Only this package can create a key of type contextKey, so no other
// package can read or shadow the Identity stored under it.
type contextKey string

const identityKey contextKey = "identity"

// UserLookup loads the account a token belongs to. The role is read on
// every request, so a demotion takes effect without reissuing tokens.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// Authenticator turns request credentials into a model.Identity.
//
// MIDDLEWARE PATTERN IN GO:
// A middleware takes an http.Handler and returns a new one that wraps it.
// Chi applies them in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
type Authenticator struct {
	tokens *TokenService
	users  UserLookup
	logger *slog.Logger
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(tokens *TokenService, users UserLookup, logger *slog.Logger) *Authenticator {
	return &Authenticator{tokens: tokens, users: users, logger: logger}
}

// RequireAuth rejects requests without a valid token with 401 and stores
// the Identity in the context otherwise.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.identify(r)
		if err != nil {
			if errors.Is(err, apperror.ErrUnauthorized) {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "valid authentication required")
				return
			}
			a.logger.Error("auth: resolving identity", slog.String("error", err.Error()))
			writeAuthError(w, http.StatusInternalServerError, "internal_error", "An internal error occurred")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// OptionalAuth stores the Identity when a valid token is present and lets
// the request through anonymously otherwise. Handlers check with
// IdentityFromContext.
func (a *Authenticator) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.identify(r)
		switch {
		case err == nil:
			r = r.WithContext(WithIdentity(r.Context(), id))
		case !errors.Is(err, apperror.ErrUnauthorized):
			a.logger.Warn("auth: resolving optional identity", slog.String("error", err.Error()))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin answers 403 unless the request carries an admin Identity.
// Mount it after RequireAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			writeAuthError(w, http.StatusUnauthorized, "unauthorized", "valid authentication required")
			return
		}
		if !id.IsAdmin() {
			writeAuthError(w, http.StatusForbidden, "forbidden", "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the authenticated caller, or false for an
// anonymous request.
//
//	id, ok := auth.IdentityFromContext(r.Context())
//	if !ok {
//	    // anonymous user
//	}
func IdentityFromContext(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(identityKey).(model.Identity)
	return id, ok && id.ID != ""
}

// TokenFromRequest returns the bearer token of r, preferring the
// Authorization header over the cookie. Empty when there is none.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// identify validates the token and loads its user. Missing or invalid
// credentials, and tokens of deleted users, come back as ErrUnauthorized.
func (a *Authenticator) identify(r *http.Request) (model.Identity, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return model.Identity{}, apperror.Unauthorized("missing token")
	}

	userID, err := a.tokens.Validate(token)
	if err != nil {
		return model.Identity{}, apperror.Unauthorized("invalid token")
	}

	user, err := a.users.GetUserByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return model.Identity{}, apperror.Unauthorized("unknown user")
		}
		return model.Identity{}, err
	}

	return model.Identity{ID: user.ID, Role: user.Role}, nil
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
