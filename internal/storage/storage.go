// Package storage defines the persistence contract shared by every
// credential flow.
//
// The store is the only coordination channel between the request-handling
// services and the email queue worker. Every trust-gating state transition
// (consuming a magic link, rotating a refresh token, advancing a sign count,
// claiming a queued email) is exposed here as a single atomic primitive so
// callers never compose a racy check-then-mutate out of separate calls.
package storage

import (
	"context"
	"time"

	apperrors "github.com/hoangsonww/passwordless-auth/internal/platform/errors"
	"github.com/hoangsonww/passwordless-auth/internal/user"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrIntegrity indicates an unexpected uniqueness violation. It is fatal to
// the operation and never silently ignored.
var ErrIntegrity = apperrors.New(apperrors.CodeIntegrityViolation, "uniqueness constraint violated")

// Classified magic link consumption failures.
var (
	ErrLinkUsed    = apperrors.New(apperrors.CodeTokenUsed, "magic link already used")
	ErrLinkExpired = apperrors.New(apperrors.CodeTokenExpired, "magic link expired")
)

// Classified refresh token rotation failures.
var (
	ErrTokenRevoked = apperrors.New(apperrors.CodeTokenRevoked, "refresh token revoked")
	ErrTokenExpired = apperrors.New(apperrors.CodeTokenExpired, "refresh token expired")
)

// ErrSignCountRegression indicates an authenticator reported a counter at or
// below the stored value, which suggests a cloned credential.
var ErrSignCountRegression = apperrors.New(apperrors.CodeSignCountRegression, "sign count did not advance")

// UserStore persists identity records.
type UserStore interface {
	PutUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, userID string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	// GetOrCreateUser inserts candidate unless a user with the same email
	// already exists, and returns the surviving row. Concurrent callers for
	// the same email always converge on one row.
	GetOrCreateUser(ctx context.Context, candidate user.User) (user.User, error)
	// SetTOTPSecret overwrites the stored shared secret for a user.
	SetTOTPSecret(ctx context.Context, userID string, secret string, updatedAt time.Time) error
}

// MagicLink represents a single-use emailed login token.
type MagicLink struct {
	Token     string
	UserID    string
	Email     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
}

// MagicLinkStore persists magic link tokens.
type MagicLinkStore interface {
	PutMagicLink(ctx context.Context, link MagicLink) error
	GetMagicLink(ctx context.Context, token string) (MagicLink, error)
	// ConsumeMagicLink flips used from false to true and returns the link,
	// all inside one transaction. Exactly one concurrent caller succeeds;
	// the rest observe ErrLinkUsed (or ErrNotFound). Expired links fail
	// with ErrLinkExpired regardless of used state.
	ConsumeMagicLink(ctx context.Context, token string, now time.Time) (MagicLink, error)
}

// RefreshToken is a server-tracked, revocable session token. Token is the
// opaque row identifier embedded in the refresh JWT's subject.
type RefreshToken struct {
	Token     string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	Revoked   bool
	RevokedAt *time.Time
}

// RefreshTokenStore persists refresh tokens and owns rotation atomicity.
type RefreshTokenStore interface {
	PutRefreshToken(ctx context.Context, token RefreshToken) error
	GetRefreshToken(ctx context.Context, id string) (RefreshToken, error)
	// RotateRefreshToken revokes the predecessor and inserts the successor
	// in one transaction. When two callers race with the same predecessor,
	// one wins and the other observes ErrTokenRevoked.
	RotateRefreshToken(ctx context.Context, oldID string, successor RefreshToken, now time.Time) error
	// RevokeRefreshToken idempotently marks a token revoked.
	RevokeRefreshToken(ctx context.Context, id string, now time.Time) error
}

// PasskeyCredential stores a WebAuthn public-key credential for a user.
//
// SignCount mirrors the authenticator counter and must never be observed to
// decrease; CredentialJSON carries the full credential record for ceremony
// reconstruction.
type PasskeyCredential struct {
	CredentialID   string
	UserID         string
	PublicKey      []byte
	SignCount      uint32
	Transports     string
	CredentialJSON string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastUsedAt     *time.Time
}

// PasskeyStore persists WebAuthn credentials and pending challenges.
type PasskeyStore interface {
	PutPasskeyCredential(ctx context.Context, credential PasskeyCredential) error
	GetPasskeyCredential(ctx context.Context, credentialID string) (PasskeyCredential, error)
	ListPasskeyCredentials(ctx context.Context, userID string) ([]PasskeyCredential, error)
	// AdvanceSignCount updates the stored counter and credential JSON only
	// when newCount is strictly greater than the stored value. A stale or
	// replayed counter yields ErrSignCountRegression.
	AdvanceSignCount(ctx context.Context, credentialID string, newCount uint32, credentialJSON string, now time.Time) error
	PutPendingChallenge(ctx context.Context, challenge PendingChallenge) error
	// ConsumePendingChallenge deletes and returns the challenge in one
	// transaction, so each challenge resolves at most one completion call.
	ConsumePendingChallenge(ctx context.Context, id string) (PendingChallenge, error)
	DeleteExpiredChallenges(ctx context.Context, now time.Time) error
}

// Challenge purposes.
const (
	ChallengePurposeRegister = "register"
	ChallengePurposeLogin    = "login"
)

// PendingChallenge stores an in-flight WebAuthn ceremony.
type PendingChallenge struct {
	ID                string
	UserID            string
	Purpose           string
	SerializedOptions string
	CreatedAt         time.Time
	ExpiresAt         time.Time
}

// Email job statuses. The state machine is monotonic:
// pending -> sending -> sent, or sending -> pending (retry) -> ... -> failed.
const (
	EmailJobStatusPending = "pending"
	EmailJobStatusSending = "sending"
	EmailJobStatusSent    = "sent"
	EmailJobStatusFailed  = "failed"
)

// EmailJob is one queued outbound message.
type EmailJob struct {
	ID        string
	To        string
	Subject   string
	BodyText  string
	BodyHTML  string
	Attempts  int
	LastError string
	NextTryAt time.Time
	CreatedAt time.Time
	SentAt    *time.Time
	Status    string
}

// EmailJobStore persists the at-least-once delivery queue.
type EmailJobStore interface {
	EnqueueEmailJob(ctx context.Context, job EmailJob) error
	GetEmailJob(ctx context.Context, id string) (EmailJob, error)
	// DueEmailJobs returns pending jobs whose next_try_at has passed.
	DueEmailJobs(ctx context.Context, now time.Time, limit int) ([]EmailJob, error)
	// ClaimEmailJob transitions a job from pending to sending. The
	// conditional update acts as a lease: a false return means another
	// worker instance already claimed it.
	ClaimEmailJob(ctx context.Context, id string, now time.Time) (bool, error)
	// MarkEmailJobSent finishes a claimed job.
	MarkEmailJobSent(ctx context.Context, id string, sentAt time.Time) error
	// MarkEmailJobRetry returns a claimed job to pending with an
	// incremented attempt count and a future next_try_at.
	MarkEmailJobRetry(ctx context.Context, id string, lastError string, nextTryAt time.Time) error
	// MarkEmailJobFailed dead-letters a claimed job after its final attempt.
	MarkEmailJobFailed(ctx context.Context, id string, lastError string) error
}
