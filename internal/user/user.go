// Package user defines the identity model shared by every credential flow.
//
// These utilities normalize and validate email addresses before they are
// persisted or used as the anchor for magic link, TOTP, and passkey logins.
package user

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	apperrors "github.com/hoangsonww/passwordless-auth/internal/platform/errors"
	"github.com/hoangsonww/passwordless-auth/internal/platform/id"
)

var (
	// ErrEmptyEmail indicates a missing email address.
	ErrEmptyEmail = apperrors.New(apperrors.CodeInvalidEmail, "email is required")
	// ErrInvalidEmail indicates an email address that does not parse.
	ErrInvalidEmail = apperrors.New(apperrors.CodeInvalidEmail, "email is invalid")
)

// User represents an authenticated identity record.
//
// TOTPSecret is empty until the user enrolls a time-based code; a non-empty
// value means enrollment is complete.
type User struct {
	ID         string
	Email      string
	TOTPSecret string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TOTPEnrolled reports whether the user has a stored TOTP secret.
func (u User) TOTPEnrolled() bool {
	return u.TOTPSecret != ""
}

// NormalizeEmail lowercases and validates an email address.
//
// Every flow normalizes through here so the store-level uniqueness constraint
// on email sees one canonical form.
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrEmptyEmail
	}
	parsed, err := mail.ParseAddress(email)
	if err != nil {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(parsed.Address), nil
}

// New creates a durable user identity for a normalized email.
func New(email string, now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeEmail(email)
	if err != nil {
		return User{}, err
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	createdAt := now().UTC()
	return User{
		ID:        userID,
		Email:     normalized,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}, nil
}
