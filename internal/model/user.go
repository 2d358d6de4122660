// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data, similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

import "time"

// Role is a user's permission level.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User represents a registered account.
//
// WHY `json:"-"` ON PasswordHash?
// The struct is returned directly from the auth endpoints. The dash tag
// tells encoding/json to skip the field entirely, so a bcrypt hash can
// never leak into a response no matter which handler serializes the user.
//
// GitHubID is nil for accounts created with email/password and set once
// the user signs in through GitHub.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Bio          string    `json:"bio,omitempty"`
	AvatarHue    int       `json:"avatarHue"`
	Role         Role      `json:"role"`
	GitHubID     *int64    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// UserSummary is the public display info attached to agent files and
// reviews (the "populated" owner/author).
type UserSummary struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarHue int    `json:"avatarHue"`
}

// Identity is the authenticated caller as resolved by the auth middleware.
// Services receive it instead of a full User so they only see what
// authorization needs.
type Identity struct {
	ID   string
	Role Role
}

// IsAdmin reports whether the caller holds the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// CanModify reports whether the caller owns the resource or is an admin.
func (i Identity) CanModify(ownerID string) bool {
	if i.IsAdmin() {
		return true
	}
	return i.ID != "" && i.ID == ownerID
}
