// Package magiclink implements emailed single-use login links.
package magiclink

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hoangsonww/passwordless-auth/internal/mail"
	apperrors "github.com/hoangsonww/passwordless-auth/internal/platform/errors"
	"github.com/hoangsonww/passwordless-auth/internal/platform/id"
	"github.com/hoangsonww/passwordless-auth/internal/storage"
	"github.com/hoangsonww/passwordless-auth/internal/user"
)

// Config defines link construction and lifetime.
type Config struct {
	// BaseURL is the externally reachable root of this deployment,
	// without a trailing slash.
	BaseURL string
	LinkTTL time.Duration
}

// Service issues and verifies magic links.
type Service struct {
	cfg       Config
	users     storage.UserStore
	links     storage.MagicLinkStore
	jobs      storage.EmailJobStore
	now       func() time.Time
	newToken  func() (string, error)
	newUserID func() (string, error)
	newJobID  func() string
}

// NewService builds a magic link service.
func NewService(cfg Config, users storage.UserStore, links storage.MagicLinkStore, jobs storage.EmailJobStore, now func() time.Time) (*Service, error) {
	if users == nil || links == nil || jobs == nil {
		return nil, fmt.Errorf("user, link, and email job stores are required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = 15 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Service{
		cfg:       cfg,
		users:     users,
		links:     links,
		jobs:      jobs,
		now:       now,
		newToken:  newLinkToken,
		newUserID: id.NewID,
		newJobID:  uuid.NewString,
	}, nil
}

// newLinkToken mints a link token from 20 unclamped random bytes, keeping
// its 160 bits of entropy clear of any id-format bit clamping.
func newLinkToken() (string, error) {
	var raw [20]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw[:])
	return strings.ToLower(encoded), nil
}

// RequestLink creates a user on first contact, mints a single-use token, and
// queues the sign-in email. The response carries no signal about whether the
// email was already registered.
func (s *Service) RequestLink(ctx context.Context, email string) error {
	normalized, err := user.NormalizeEmail(email)
	if err != nil {
		return err
	}

	candidate, err := user.New(normalized, s.now, s.newUserID)
	if err != nil {
		return fmt.Errorf("build candidate user: %w", err)
	}
	u, err := s.users.GetOrCreateUser(ctx, candidate)
	if err != nil {
		return fmt.Errorf("get or create user: %w", err)
	}

	token, err := s.newToken()
	if err != nil {
		return fmt.Errorf("generate link token: %w", err)
	}
	now := s.now().UTC()
	link := storage.MagicLink{
		Token:     token,
		UserID:    u.ID,
		Email:     u.Email,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.LinkTTL),
	}
	if err := s.links.PutMagicLink(ctx, link); err != nil {
		return fmt.Errorf("store magic link: %w", err)
	}

	msg := mail.MagicLinkMessage(u.Email, s.linkURL(token), s.cfg.LinkTTL)
	job := storage.EmailJob{
		ID:        s.newJobID(),
		To:        msg.To,
		Subject:   msg.Subject,
		BodyText:  msg.BodyText,
		BodyHTML:  msg.BodyHTML,
		NextTryAt: now,
		CreatedAt: now,
		Status:    storage.EmailJobStatusPending,
	}
	if err := s.jobs.EnqueueEmailJob(ctx, job); err != nil {
		return fmt.Errorf("enqueue sign-in email: %w", err)
	}
	return nil
}

// Verify consumes a magic link and returns its user. The consume is atomic:
// replays and late clicks fail with classified credential errors.
func (s *Service) Verify(ctx context.Context, token string) (user.User, error) {
	link, err := s.links.ConsumeMagicLink(ctx, token, s.now().UTC())
	if err != nil {
		// An unrecognized token must look like a used or expired one, so
		// callers cannot enumerate which tokens exist.
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, apperrors.New(apperrors.CodeTokenNotFound, "magic link is not recognized")
		}
		return user.User{}, err
	}
	u, err := s.users.GetUser(ctx, link.UserID)
	if err != nil {
		return user.User{}, fmt.Errorf("load link user: %w", err)
	}
	return u, nil
}

func (s *Service) linkURL(token string) string {
	return s.cfg.BaseURL + "/magiclink/verify?token=" + url.QueryEscape(token)
}
