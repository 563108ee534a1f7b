package magiclink

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/hoangsonww/passwordless-auth/internal/platform/errors"
	"github.com/hoangsonww/passwordless-auth/internal/storage"
	"github.com/hoangsonww/passwordless-auth/internal/user"
)

type fakeStore struct {
	mu    sync.Mutex
	users map[string]user.User
	links map[string]storage.MagicLink
	jobs  []storage.EmailJob
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: map[string]user.User{},
		links: map[string]storage.MagicLink{},
	}
}

func (f *fakeStore) PutUser(_ context.Context, u user.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return nil
}

func (f *fakeStore) GetUser(_ context.Context, userID string) (user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return user.User{}, storage.ErrNotFound
}

func (f *fakeStore) GetOrCreateUser(_ context.Context, candidate user.User) (user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == candidate.Email {
			return u, nil
		}
	}
	f.users[candidate.ID] = candidate
	return candidate, nil
}

func (f *fakeStore) SetTOTPSecret(_ context.Context, userID string, secret string, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.TOTPSecret = secret
	u.UpdatedAt = updatedAt
	f.users[userID] = u
	return nil
}

func (f *fakeStore) PutMagicLink(_ context.Context, link storage.MagicLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.links[link.Token]; ok {
		return storage.ErrIntegrity
	}
	f.links[link.Token] = link
	return nil
}

func (f *fakeStore) GetMagicLink(_ context.Context, token string) (storage.MagicLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	link, ok := f.links[token]
	if !ok {
		return storage.MagicLink{}, storage.ErrNotFound
	}
	return link, nil
}

func (f *fakeStore) ConsumeMagicLink(_ context.Context, token string, now time.Time) (storage.MagicLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	link, ok := f.links[token]
	if !ok {
		return storage.MagicLink{}, storage.ErrNotFound
	}
	if link.Used {
		return storage.MagicLink{}, storage.ErrLinkUsed
	}
	if !link.ExpiresAt.After(now) {
		return storage.MagicLink{}, storage.ErrLinkExpired
	}
	link.Used = true
	link.UsedAt = &now
	f.links[token] = link
	return link, nil
}

func (f *fakeStore) EnqueueEmailJob(_ context.Context, job storage.EmailJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeStore) GetEmailJob(_ context.Context, id string) (storage.EmailJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.ID == id {
			return job, nil
		}
	}
	return storage.EmailJob{}, storage.ErrNotFound
}

func (f *fakeStore) DueEmailJobs(context.Context, time.Time, int) ([]storage.EmailJob, error) {
	return nil, nil
}

func (f *fakeStore) ClaimEmailJob(context.Context, string, time.Time) (bool, error) {
	return false, nil
}

func (f *fakeStore) MarkEmailJobSent(context.Context, string, time.Time) error { return nil }

func (f *fakeStore) MarkEmailJobRetry(context.Context, string, string, time.Time) error { return nil }

func (f *fakeStore) MarkEmailJobFailed(context.Context, string, string) error { return nil }

func newTestService(t *testing.T, store *fakeStore, now *time.Time) *Service {
	t.Helper()
	service, err := NewService(Config{
		BaseURL: "https://idp.example.com",
		LinkTTL: 15 * time.Minute,
	}, store, store, store, func() time.Time { return *now })
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

func TestRequestLinkCreatesUserAndQueuesEmail(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	service := newTestService(t, store, &now)

	if err := service.RequestLink(context.Background(), "User@Example.com"); err != nil {
		t.Fatalf("request link: %v", err)
	}

	u, err := store.GetUserByEmail(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("expected user created: %v", err)
	}

	if len(store.links) != 1 {
		t.Fatalf("expected one link, got %d", len(store.links))
	}
	for _, link := range store.links {
		if link.UserID != u.ID {
			t.Fatalf("link bound to wrong user: %+v", link)
		}
		if !link.ExpiresAt.Equal(now.Add(15 * time.Minute)) {
			t.Fatalf("unexpected expiry %v", link.ExpiresAt)
		}
	}

	if len(store.jobs) != 1 {
		t.Fatalf("expected one queued email, got %d", len(store.jobs))
	}
	job := store.jobs[0]
	if job.To != "user@example.com" {
		t.Fatalf("unexpected recipient %q", job.To)
	}
	if !strings.Contains(job.BodyText, "https://idp.example.com/magiclink/verify?token=") {
		t.Fatalf("email body must carry the link: %q", job.BodyText)
	}
	if job.Status != storage.EmailJobStatusPending {
		t.Fatalf("unexpected job status %q", job.Status)
	}
}

func TestRequestLinkExistingUser(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	service := newTestService(t, store, &now)

	if err := service.RequestLink(context.Background(), "user@example.com"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := service.RequestLink(context.Background(), "user@example.com"); err != nil {
		t.Fatalf("second request: %v", err)
	}

	if len(store.users) != 1 {
		t.Fatalf("expected one user, got %d", len(store.users))
	}
	if len(store.links) != 2 {
		t.Fatalf("each request mints its own link, got %d", len(store.links))
	}
}

func TestRequestLinkInvalidEmail(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	service := newTestService(t, store, &now)

	err := service.RequestLink(context.Background(), "not an email")
	if apperrors.GetCode(err) != apperrors.CodeInvalidEmail {
		t.Fatalf("expected invalid email, got %v", err)
	}
	if len(store.jobs) != 0 {
		t.Fatal("no email may be queued for an invalid address")
	}
}

func TestVerify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	service := newTestService(t, store, &now)

	if err := service.RequestLink(context.Background(), "user@example.com"); err != nil {
		t.Fatalf("request link: %v", err)
	}
	var token string
	for tok := range store.links {
		token = tok
	}

	now = now.Add(time.Minute)
	u, err := service.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if u.Email != "user@example.com" {
		t.Fatalf("unexpected user %+v", u)
	}

	// A link grants exactly one login.
	_, err = service.Verify(context.Background(), token)
	if !errors.Is(err, storage.ErrLinkUsed) {
		t.Fatalf("expected link used, got %v", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	service := newTestService(t, store, &now)

	if err := service.RequestLink(context.Background(), "user@example.com"); err != nil {
		t.Fatalf("request link: %v", err)
	}
	var token string
	for tok := range store.links {
		token = tok
	}

	now = now.Add(16 * time.Minute)
	_, err := service.Verify(context.Background(), token)
	if !errors.Is(err, storage.ErrLinkExpired) {
		t.Fatalf("expected link expired, got %v", err)
	}
}

func TestVerifyUnknownToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	service := newTestService(t, newFakeStore(), &now)

	_, err := service.Verify(context.Background(), "ghost")
	if got := apperrors.GetCode(err); got != apperrors.CodeTokenNotFound {
		t.Fatalf("expected token not found code, got %q (%v)", got, err)
	}
}

func TestVerifyFailuresShareStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	service := newTestService(t, store, &now)

	if err := service.RequestLink(context.Background(), "used@example.com"); err != nil {
		t.Fatalf("request link: %v", err)
	}
	var usedToken string
	for tok := range store.links {
		usedToken = tok
	}
	if _, err := service.Verify(context.Background(), usedToken); err != nil {
		t.Fatalf("verify: %v", err)
	}

	if err := service.RequestLink(context.Background(), "expired@example.com"); err != nil {
		t.Fatalf("request link: %v", err)
	}
	var expiredToken string
	for tok := range store.links {
		if tok != usedToken {
			expiredToken = tok
		}
	}
	now = now.Add(16 * time.Minute)

	// A caller must not be able to tell an unknown token apart from a used
	// or expired one by the response it provokes.
	for name, token := range map[string]string{
		"used":    usedToken,
		"expired": expiredToken,
		"unknown": "ghost",
	} {
		_, err := service.Verify(context.Background(), token)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if got := apperrors.GetCode(err).HTTPStatus(); got != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d (%v)", name, got, err)
		}
	}
}

func TestLinkTokenFormat(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	service := newTestService(t, store, &now)

	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		if err := service.RequestLink(context.Background(), email); err != nil {
			t.Fatalf("request link: %v", err)
		}
	}

	if len(store.links) != 3 {
		t.Fatalf("expected 3 distinct tokens, got %d", len(store.links))
	}
	// 20 random bytes encode to 32 base32 characters.
	for tok := range store.links {
		if len(tok) != 32 {
			t.Fatalf("token %q has length %d, want 32", tok, len(tok))
		}
		if tok != strings.ToLower(tok) {
			t.Fatalf("token %q is not lowercase", tok)
		}
		if strings.ContainsAny(tok, "=") {
			t.Fatalf("token %q carries padding", tok)
		}
	}
}
