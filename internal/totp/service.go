package totp

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/hoangsonww/passwordless-auth/internal/platform/errors"
	"github.com/hoangsonww/passwordless-auth/internal/platform/id"
	"github.com/hoangsonww/passwordless-auth/internal/storage"
	"github.com/hoangsonww/passwordless-auth/internal/user"
)

// Enrollment is returned to a user who just enrolled an authenticator.
type Enrollment struct {
	Secret          string
	ProvisioningURL string
}

// Service manages authenticator enrollment and code verification for stored
// users.
type Service struct {
	users  storage.UserStore
	issuer string
	now    func() time.Time
	newID  func() (string, error)
}

// NewService builds a TOTP service. The issuer names this deployment inside
// authenticator apps.
func NewService(users storage.UserStore, issuer string, now func() time.Time) (*Service, error) {
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if issuer == "" {
		return nil, fmt.Errorf("totp issuer is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Service{users: users, issuer: issuer, now: now, newID: id.NewID}, nil
}

// Enroll generates a fresh shared secret for the email's user, creating the
// user row if absent, and stores it replacing any previous one.
// Re-enrollment invalidates old authenticators.
func (s *Service) Enroll(ctx context.Context, email string) (Enrollment, error) {
	candidate, err := user.New(email, s.now, s.newID)
	if err != nil {
		return Enrollment{}, err
	}
	u, err := s.users.GetOrCreateUser(ctx, candidate)
	if err != nil {
		return Enrollment{}, err
	}

	secret, err := GenerateSecret()
	if err != nil {
		return Enrollment{}, err
	}
	if err := s.users.SetTOTPSecret(ctx, u.ID, secret, s.now().UTC()); err != nil {
		return Enrollment{}, fmt.Errorf("store totp secret: %w", err)
	}

	return Enrollment{
		Secret:          secret,
		ProvisioningURL: ProvisioningURL(secret, s.issuer, u.Email),
	}, nil
}

// Authenticate verifies a code for an email address and returns the matching
// user. Every failure mode is a credential error so callers cannot discover
// which emails exist or are enrolled.
func (s *Service) Authenticate(ctx context.Context, email, code string) (user.User, error) {
	normalized, err := user.NormalizeEmail(email)
	if err != nil {
		return user.User{}, err
	}

	u, err := s.users.GetUserByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, apperrors.New(apperrors.CodeTotpInvalidCode, "totp code is invalid")
		}
		return user.User{}, fmt.Errorf("load user: %w", err)
	}
	if !u.TOTPEnrolled() {
		return user.User{}, apperrors.New(apperrors.CodeTotpNotEnrolled, "totp is not enrolled")
	}

	if err := Verify(u.TOTPSecret, code, s.now().UTC()); err != nil {
		return user.User{}, err
	}
	return u, nil
}
