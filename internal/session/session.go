// Package session issues and verifies JWT session tokens.
//
// Access tokens are short-lived and stateless. Refresh tokens are long-lived
// and backed by a store row; the JWT subject of a refresh token is the row
// identifier, not the user, so revocation and rotation stay server-side.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "github.com/hoangsonww/passwordless-auth/internal/platform/errors"
	"github.com/hoangsonww/passwordless-auth/internal/storage"
)

// Token kinds carried in the "kind" claim.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// Config defines token lifetimes and signing material.
type Config struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
	NewTokenID func() string
}

// sessionClaims is the internal claims type used for JWT parsing.
type sessionClaims struct {
	jwt.RegisteredClaims
	Kind string `json:"kind"`
}

// Issuer mints and verifies session tokens against a refresh token store.
type Issuer struct {
	cfg    Config
	tokens storage.RefreshTokenStore
}

// NewIssuer builds a session issuer.
func NewIssuer(cfg Config, tokens storage.RefreshTokenStore) (*Issuer, error) {
	if len(cfg.Secret) < 32 {
		return nil, fmt.Errorf("session secret must be at least 32 bytes")
	}
	if tokens == nil {
		return nil, fmt.Errorf("refresh token store is required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewTokenID == nil {
		cfg.NewTokenID = uuid.NewString
	}
	return &Issuer{cfg: cfg, tokens: tokens}, nil
}

// Issue mints an access and refresh token pair for a user who has already
// been authenticated.
func (i *Issuer) Issue(ctx context.Context, userID string) (TokenPair, error) {
	if err := ctx.Err(); err != nil {
		return TokenPair{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return TokenPair{}, fmt.Errorf("user id is required")
	}

	now := i.cfg.Now().UTC()
	rowID := i.cfg.NewTokenID()
	row := storage.RefreshToken{
		Token:     rowID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(i.cfg.RefreshTTL),
	}
	if err := i.tokens.PutRefreshToken(ctx, row); err != nil {
		return TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}
	return i.mintPair(userID, rowID, now)
}

// VerifyAccess validates an access token and returns the user ID it names.
func (i *Issuer) VerifyAccess(token string) (string, error) {
	claims, err := i.parse(token, KindAccess)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Refresh rotates a refresh token and mints a new pair. The presented token
// is revoked whether or not the caller receives the response; replaying it
// afterwards fails with a revoked-token error.
func (i *Issuer) Refresh(ctx context.Context, token string) (TokenPair, error) {
	if err := ctx.Err(); err != nil {
		return TokenPair{}, err
	}
	claims, err := i.parse(token, KindRefresh)
	if err != nil {
		return TokenPair{}, err
	}

	oldID := claims.Subject
	row, err := i.tokens.GetRefreshToken(ctx, oldID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return TokenPair{}, apperrors.New(apperrors.CodeTokenNotFound, "refresh token is not recognized")
		}
		return TokenPair{}, fmt.Errorf("load refresh token: %w", err)
	}

	now := i.cfg.Now().UTC()
	successorID := i.cfg.NewTokenID()
	successor := storage.RefreshToken{
		Token:     successorID,
		UserID:    row.UserID,
		CreatedAt: now,
		ExpiresAt: now.Add(i.cfg.RefreshTTL),
	}
	if err := i.tokens.RotateRefreshToken(ctx, oldID, successor, now); err != nil {
		if errors.Is(err, storage.ErrTokenRevoked) || errors.Is(err, storage.ErrTokenExpired) {
			return TokenPair{}, err
		}
		return TokenPair{}, fmt.Errorf("rotate refresh token: %w", err)
	}
	return i.mintPair(row.UserID, successorID, now)
}

// Revoke marks the refresh token revoked. Unknown tokens are treated as
// already revoked so logout stays idempotent and reveals nothing.
func (i *Issuer) Revoke(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	claims, err := i.parse(token, KindRefresh)
	if err != nil {
		return err
	}
	if err := i.tokens.RevokeRefreshToken(ctx, claims.Subject, i.cfg.Now().UTC()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (i *Issuer) mintPair(userID, refreshRowID string, now time.Time) (TokenPair, error) {
	access, err := i.sign(userID, KindAccess, now, now.Add(i.cfg.AccessTTL))
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := i.sign(refreshRowID, KindRefresh, now, now.Add(i.cfg.RefreshTTL))
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(i.cfg.AccessTTL / time.Second),
	}, nil
}

func (i *Issuer) sign(subject, kind string, issuedAt, expiresAt time.Time) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Kind: kind,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.Secret)
}

// parse verifies the signature, the expected kind, and expiry against the
// injected clock.
func (i *Issuer) parse(token, wantKind string) (sessionClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return sessionClaims{}, apperrors.New(apperrors.CodeSignatureInvalid, "token is required")
	}

	var parsed sessionClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(t *jwt.Token) (any, error) {
		return i.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return sessionClaims{}, mapJWTError(err)
	}

	if parsed.Kind != wantKind {
		return sessionClaims{}, apperrors.New(apperrors.CodeWrongTokenKind, "token kind is not valid for this operation")
	}
	if strings.TrimSpace(parsed.Subject) == "" {
		return sessionClaims{}, apperrors.New(apperrors.CodeSignatureInvalid, "token subject is required")
	}
	if parsed.ExpiresAt == nil {
		return sessionClaims{}, apperrors.New(apperrors.CodeSignatureInvalid, "token exp is required")
	}
	now := i.cfg.Now().UTC()
	if !parsed.ExpiresAt.Time.UTC().After(now) {
		return sessionClaims{}, apperrors.New(apperrors.CodeTokenExpired, "token is expired")
	}
	return parsed, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		return apperrors.New(apperrors.CodeSignatureInvalid, "token signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeSignatureInvalid, "token alg is invalid")
	}
	return apperrors.New(apperrors.CodeSignatureInvalid, "token is invalid")
}
