// Package server exposes the authentication flows over JSON HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/hoangsonww/passwordless-auth/internal/audit"
	"github.com/hoangsonww/passwordless-auth/internal/passkey"
	"github.com/hoangsonww/passwordless-auth/internal/session"
	"github.com/hoangsonww/passwordless-auth/internal/totp"
	"github.com/hoangsonww/passwordless-auth/internal/user"
)

// MagicLinkService drives the email link flow.
type MagicLinkService interface {
	RequestLink(ctx context.Context, email string) error
	Verify(ctx context.Context, token string) (user.User, error)
}

// TOTPService drives enrollment and code verification.
type TOTPService interface {
	Enroll(ctx context.Context, email string) (totp.Enrollment, error)
	Authenticate(ctx context.Context, email, code string) (user.User, error)
}

// PasskeyService drives WebAuthn ceremonies.
type PasskeyService interface {
	BeginRegistration(ctx context.Context, email string) (passkey.Challenge, error)
	FinishRegistration(ctx context.Context, challengeID string, responseJSON []byte) (string, error)
	BeginLogin(ctx context.Context, email string) (passkey.Challenge, error)
	FinishLogin(ctx context.Context, challengeID string, responseJSON []byte) (user.User, error)
	CleanupExpiredChallenges(ctx context.Context) error
}

// SessionIssuer mints and rotates token pairs.
type SessionIssuer interface {
	Issue(ctx context.Context, userID string) (session.TokenPair, error)
	Refresh(ctx context.Context, token string) (session.TokenPair, error)
	Revoke(ctx context.Context, token string) error
}

// Server hosts the authentication HTTP endpoints.
type Server struct {
	magicLinks MagicLinkService
	totp       TOTPService
	passkeys   PasskeyService
	sessions   SessionIssuer
	audit      audit.Sink
	clock      func() time.Time
}

// NewServer builds a server bound to the authentication services.
func NewServer(magicLinks MagicLinkService, totpService TOTPService, passkeys PasskeyService, sessions SessionIssuer, sink audit.Sink) *Server {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Server{
		magicLinks: magicLinks,
		totp:       totpService,
		passkeys:   passkeys,
		sessions:   sessions,
		audit:      sink,
		clock:      time.Now,
	}
}

// RegisterRoutes registers authentication endpoints on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}

	mux.HandleFunc("/request/magic", s.handleRequestMagic)
	mux.HandleFunc("/verify/magic", s.handleVerifyMagic)
	mux.HandleFunc("/totp/enroll", s.handleTOTPEnroll)
	mux.HandleFunc("/totp/verify", s.handleTOTPVerify)
	mux.HandleFunc("/webauthn/register/options", s.handleRegisterOptions)
	mux.HandleFunc("/webauthn/register/complete", s.handleRegisterComplete)
	mux.HandleFunc("/webauthn/login/options", s.handleLoginOptions)
	mux.HandleFunc("/webauthn/login/complete", s.handleLoginComplete)
	mux.HandleFunc("/token/refresh", s.handleTokenRefresh)
	mux.HandleFunc("/token/revoke", s.handleTokenRevoke)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// StartCleanup purges expired WebAuthn challenges until ctx is cancelled.
func (s *Server) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.passkeys.CleanupExpiredChallenges(ctx)
			}
		}
	}()
}
