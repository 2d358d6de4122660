// Run with: go test ./internal/apperror/ -v
package apperror

import (
	"errors"
	"fmt"
	"os"
	"testing"
)

// TABLE-DRIVEN TESTS:
// Each case checks that errors.Is() identifies the sentinel behind a
// constructor. Adding a kind means adding one row here.
func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("agent file", "abc123"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("file", "no file uploaded"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "Conflict wraps ErrConflict",
			err:       Conflict("username or email already in use"),
			target:    ErrConflict,
			wantMatch: true,
		},
		{
			name:      "Forbidden wraps ErrForbidden",
			err:       Forbidden("you can only modify your own uploads"),
			target:    ErrForbidden,
			wantMatch: true,
		},
		{
			name:      "Unauthorized wraps ErrUnauthorized",
			err:       Unauthorized("invalid credentials"),
			target:    ErrUnauthorized,
			wantMatch: true,
		},
		{
			name:      "Dependency wraps ErrDependency",
			err:       Dependency("writing blob", os.ErrPermission),
			target:    ErrDependency,
			wantMatch: true,
		},
		{
			name:      "Dependency also matches its cause",
			err:       Dependency("writing blob", os.ErrPermission),
			target:    os.ErrPermission,
			wantMatch: true,
		},
		{
			name:      "NotFound does NOT match ErrValidation",
			err:       NotFound("agent file", "abc123"),
			target:    ErrValidation,
			wantMatch: false,
		},
		{
			name:      "Forbidden does NOT match ErrUnauthorized",
			err:       Forbidden("nope"),
			target:    ErrUnauthorized,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("review", "abc123"),
			wantMessage: "review not found with id abc123",
		},
		{
			name:        "ValidationFailed uses custom message",
			err:         ValidationFailed("rating", "rating must be between 1 and 5"),
			wantMessage: "rating must be between 1 and 5",
		},
		{
			name:        "Dependency message includes the cause",
			err:         Dependency("writing blob", errors.New("disk full")),
			wantMessage: "writing blob: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestErrorsAs_ThroughWrapping(t *testing.T) {
	// Services wrap AppErrors with fmt.Errorf("...: %w"); handlers must
	// still be able to pull the AppError back out.
	wrapped := fmt.Errorf("service: updating agent: %w", Forbidden("not yours"))

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatal("errors.As() did not find *AppError")
	}
	if appErr.Message != "not yours" {
		t.Errorf("Message = %q, want %q", appErr.Message, "not yours")
	}
}

func TestValidationFailedField(t *testing.T) {
	err := ValidationFailed("comment", "comment too long")

	if err.Field != "comment" {
		t.Errorf("Field = %q, want %q", err.Field, "comment")
	}
}
