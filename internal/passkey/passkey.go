// Package passkey implements WebAuthn registration and login ceremonies.
//
// Each ceremony spans two requests, bridged by a stored single-use
// challenge. Completing a ceremony consumes the challenge whether validation
// succeeds or not, so an attacker cannot retry against a captured challenge.
package passkey

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	apperrors "github.com/hoangsonww/passwordless-auth/internal/platform/errors"
	"github.com/hoangsonww/passwordless-auth/internal/platform/id"
	"github.com/hoangsonww/passwordless-auth/internal/storage"
	"github.com/hoangsonww/passwordless-auth/internal/user"
)

// Challenge is the public half of a pending ceremony.
type Challenge struct {
	ID          string
	OptionsJSON []byte
}

type webauthnProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

type responseParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultParser struct{}

func (defaultParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// Service runs WebAuthn ceremonies against stored users and credentials.
type Service struct {
	cfg    Config
	users  storage.UserStore
	store  storage.PasskeyStore
	web    webauthnProvider
	parser responseParser
	now    func() time.Time
	newID  func() (string, error)
}

// NewService builds a passkey service for the configured relying party.
func NewService(cfg Config, users storage.UserStore, store storage.PasskeyStore, now func() time.Time) (*Service, error) {
	if users == nil || store == nil {
		return nil, fmt.Errorf("user and passkey stores are required")
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	if now == nil {
		now = time.Now
	}

	web, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}

	return &Service{
		cfg:    cfg,
		users:  users,
		store:  store,
		web:    web,
		parser: defaultParser{},
		now:    now,
		newID:  id.NewID,
	}, nil
}

// BeginRegistration starts a credential creation ceremony, creating the
// user row for email if none exists yet.
func (s *Service) BeginRegistration(ctx context.Context, email string) (Challenge, error) {
	candidate, err := user.New(email, s.now, s.newID)
	if err != nil {
		return Challenge{}, err
	}
	baseUser, err := s.users.GetOrCreateUser(ctx, candidate)
	if err != nil {
		return Challenge{}, err
	}
	webUser, err := s.loadWebUser(ctx, baseUser)
	if err != nil {
		return Challenge{}, err
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(webUser.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(webUser.credentials).CredentialDescriptors()))
	}

	creation, session, err := s.web.BeginRegistration(webUser, options...)
	if err != nil {
		return Challenge{}, fmt.Errorf("begin registration ceremony: %w", err)
	}
	return s.storeChallenge(ctx, storage.ChallengePurposeRegister, baseUser.ID, creation, session)
}

// FinishRegistration completes a creation ceremony and stores the new
// credential. The challenge is burned before validation runs.
func (s *Service) FinishRegistration(ctx context.Context, challengeID string, responseJSON []byte) (string, error) {
	challenge, session, err := s.consumeChallenge(ctx, challengeID, storage.ChallengePurposeRegister)
	if err != nil {
		return "", err
	}

	baseUser, err := s.users.GetUser(ctx, challenge.UserID)
	if err != nil {
		return "", fmt.Errorf("load ceremony user: %w", err)
	}
	webUser, err := s.loadWebUser(ctx, baseUser)
	if err != nil {
		return "", err
	}

	parsed, err := s.parser.ParseCredentialCreationResponseBytes(responseJSON)
	if err != nil {
		return "", apperrors.New(apperrors.CodeInvalidRequest, "credential response does not parse")
	}
	credential, err := s.web.CreateCredential(webUser, session, parsed)
	if err != nil {
		return "", apperrors.New(apperrors.CodeAssertionInvalid, "credential attestation is invalid")
	}

	credentialJSON, err := json.Marshal(credential)
	if err != nil {
		return "", fmt.Errorf("encode credential: %w", err)
	}
	now := s.now().UTC()
	credentialID := encodeCredentialID(credential.ID)
	record := storage.PasskeyCredential{
		CredentialID:   credentialID,
		UserID:         baseUser.ID,
		PublicKey:      credential.PublicKey,
		SignCount:      credential.Authenticator.SignCount,
		Transports:     joinTransports(credential.Transport),
		CredentialJSON: string(credentialJSON),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.PutPasskeyCredential(ctx, record); err != nil {
		return "", fmt.Errorf("store credential: %w", err)
	}
	return credentialID, nil
}

// BeginLogin starts an assertion ceremony for the user behind an email.
// Unknown or credential-less emails fail with the same generic error.
func (s *Service) BeginLogin(ctx context.Context, email string) (Challenge, error) {
	normalized, err := user.NormalizeEmail(email)
	if err != nil {
		return Challenge{}, err
	}

	baseUser, err := s.users.GetUserByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Challenge{}, apperrors.New(apperrors.CodeCredentialNotFound, "no usable passkey")
		}
		return Challenge{}, fmt.Errorf("load user: %w", err)
	}
	webUser, err := s.loadWebUser(ctx, baseUser)
	if err != nil {
		return Challenge{}, err
	}
	if len(webUser.credentials) == 0 {
		return Challenge{}, apperrors.New(apperrors.CodeCredentialNotFound, "no usable passkey")
	}

	assertion, session, err := s.web.BeginLogin(webUser)
	if err != nil {
		return Challenge{}, fmt.Errorf("begin login ceremony: %w", err)
	}
	return s.storeChallenge(ctx, storage.ChallengePurposeLogin, baseUser.ID, assertion, session)
}

// FinishLogin completes an assertion ceremony and returns the authenticated
// user. The stored sign count must move strictly forward unless the
// authenticator does not implement one and reports zero.
func (s *Service) FinishLogin(ctx context.Context, challengeID string, responseJSON []byte) (user.User, error) {
	challenge, session, err := s.consumeChallenge(ctx, challengeID, storage.ChallengePurposeLogin)
	if err != nil {
		return user.User{}, err
	}

	baseUser, err := s.users.GetUser(ctx, challenge.UserID)
	if err != nil {
		return user.User{}, fmt.Errorf("load ceremony user: %w", err)
	}
	webUser, err := s.loadWebUser(ctx, baseUser)
	if err != nil {
		return user.User{}, err
	}

	parsed, err := s.parser.ParseCredentialRequestResponseBytes(responseJSON)
	if err != nil {
		return user.User{}, apperrors.New(apperrors.CodeInvalidRequest, "credential response does not parse")
	}
	credential, err := s.web.ValidateLogin(webUser, session, parsed)
	if err != nil {
		return user.User{}, apperrors.New(apperrors.CodeAssertionInvalid, "passkey assertion is invalid")
	}

	newCount := credential.Authenticator.SignCount
	if newCount > 0 {
		credentialJSON, marshalErr := json.Marshal(credential)
		if marshalErr != nil {
			return user.User{}, fmt.Errorf("encode credential: %w", marshalErr)
		}
		err = s.store.AdvanceSignCount(ctx, encodeCredentialID(credential.ID), newCount, string(credentialJSON), s.now().UTC())
		if err != nil {
			if errors.Is(err, storage.ErrSignCountRegression) {
				return user.User{}, err
			}
			return user.User{}, fmt.Errorf("advance sign count: %w", err)
		}
	}
	return baseUser, nil
}

// CleanupExpiredChallenges discards abandoned ceremonies.
func (s *Service) CleanupExpiredChallenges(ctx context.Context) error {
	return s.store.DeleteExpiredChallenges(ctx, s.now().UTC())
}

// storeChallenge persists the server half of a ceremony and returns the
// public half.
func (s *Service) storeChallenge(ctx context.Context, purpose, userID string, publicOptions any, session *webauthn.SessionData) (Challenge, error) {
	if session == nil {
		return Challenge{}, fmt.Errorf("session data is required")
	}
	challengeID, err := s.newID()
	if err != nil {
		return Challenge{}, fmt.Errorf("generate challenge id: %w", err)
	}
	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return Challenge{}, fmt.Errorf("encode ceremony session: %w", err)
	}
	now := s.now().UTC()
	record := storage.PendingChallenge{
		ID:                challengeID,
		UserID:            userID,
		Purpose:           purpose,
		SerializedOptions: string(sessionJSON),
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.cfg.ChallengeTTL),
	}
	if err := s.store.PutPendingChallenge(ctx, record); err != nil {
		return Challenge{}, fmt.Errorf("store pending challenge: %w", err)
	}

	optionsJSON, err := json.Marshal(publicOptions)
	if err != nil {
		return Challenge{}, fmt.Errorf("encode ceremony options: %w", err)
	}
	return Challenge{ID: challengeID, OptionsJSON: optionsJSON}, nil
}

// consumeChallenge burns the challenge and validates purpose and expiry.
func (s *Service) consumeChallenge(ctx context.Context, challengeID, wantPurpose string) (storage.PendingChallenge, webauthn.SessionData, error) {
	challengeID = strings.TrimSpace(challengeID)
	if challengeID == "" {
		return storage.PendingChallenge{}, webauthn.SessionData{}, apperrors.New(apperrors.CodeChallengeNotFound, "challenge is not recognized")
	}

	challenge, err := s.store.ConsumePendingChallenge(ctx, challengeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.PendingChallenge{}, webauthn.SessionData{}, apperrors.New(apperrors.CodeChallengeNotFound, "challenge is not recognized")
		}
		return storage.PendingChallenge{}, webauthn.SessionData{}, fmt.Errorf("consume pending challenge: %w", err)
	}
	if challenge.Purpose != wantPurpose {
		return storage.PendingChallenge{}, webauthn.SessionData{}, apperrors.New(apperrors.CodeChallengeMismatch, "challenge purpose mismatch")
	}
	if !challenge.ExpiresAt.After(s.now().UTC()) {
		return storage.PendingChallenge{}, webauthn.SessionData{}, apperrors.New(apperrors.CodeChallengeExpired, "challenge expired")
	}

	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(challenge.SerializedOptions), &session); err != nil {
		return storage.PendingChallenge{}, webauthn.SessionData{}, fmt.Errorf("decode ceremony session: %w", err)
	}
	return challenge, session, nil
}

// webUser adapts a stored user and credentials to the webauthn.User contract.
type webUser struct {
	user        user.User
	credentials []webauthn.Credential
}

func (u *webUser) WebAuthnID() []byte { return []byte(u.user.ID) }

func (u *webUser) WebAuthnName() string { return u.user.Email }

func (u *webUser) WebAuthnDisplayName() string { return u.user.Email }

func (u *webUser) WebAuthnIcon() string { return "" }

func (u *webUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

func (s *Service) loadWebUser(ctx context.Context, base user.User) (*webUser, error) {
	records, err := s.store.ListPasskeyCredentials(ctx, base.ID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		var credential webauthn.Credential
		if err := json.Unmarshal([]byte(record.CredentialJSON), &credential); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", record.CredentialID, err)
		}
		credentials = append(credentials, credential)
	}
	return &webUser{user: base, credentials: credentials}, nil
}

func joinTransports(transports []protocol.AuthenticatorTransport) string {
	if len(transports) == 0 {
		return ""
	}
	values := make([]string, 0, len(transports))
	for _, transport := range transports {
		values = append(values, string(transport))
	}
	return strings.Join(values, ",")
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
