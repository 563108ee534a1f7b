package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/hoangsonww/passwordless-auth/internal/platform/errors"
	"github.com/hoangsonww/passwordless-auth/internal/storage"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeTokenStore struct {
	mu     sync.Mutex
	tokens map[string]storage.RefreshToken
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: map[string]storage.RefreshToken{}}
}

func (f *fakeTokenStore) PutRefreshToken(_ context.Context, token storage.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tokens[token.Token]; ok {
		return storage.ErrIntegrity
	}
	f.tokens[token.Token] = token
	return nil
}

func (f *fakeTokenStore) GetRefreshToken(_ context.Context, id string) (storage.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.tokens[id]
	if !ok {
		return storage.RefreshToken{}, storage.ErrNotFound
	}
	return token, nil
}

func (f *fakeTokenStore) RotateRefreshToken(_ context.Context, oldID string, successor storage.RefreshToken, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.tokens[oldID]
	if !ok {
		return storage.ErrNotFound
	}
	if old.Revoked {
		return storage.ErrTokenRevoked
	}
	if !old.ExpiresAt.After(now) {
		return storage.ErrTokenExpired
	}
	revokedAt := now
	old.Revoked = true
	old.RevokedAt = &revokedAt
	f.tokens[oldID] = old
	f.tokens[successor.Token] = successor
	return nil
}

func (f *fakeTokenStore) RevokeRefreshToken(_ context.Context, id string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.tokens[id]
	if !ok {
		return storage.ErrNotFound
	}
	if !token.Revoked {
		token.Revoked = true
		token.RevokedAt = &now
		f.tokens[id] = token
	}
	return nil
}

func newTestIssuer(t *testing.T, store *fakeTokenStore, now *time.Time) *Issuer {
	t.Helper()
	counter := 0
	issuer, err := NewIssuer(Config{
		Secret:     testSecret,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
		Now:        func() time.Time { return *now },
		NewTokenID: func() string {
			counter++
			return fmt.Sprintf("rt-%d", counter)
		},
	}, store)
	require.NoError(t, err)
	return issuer
}

func TestNewIssuerRejectsShortSecret(t *testing.T) {
	_, err := NewIssuer(Config{Secret: []byte("short")}, newFakeTokenStore())
	assert.Error(t, err)
}

func TestIssueAndVerifyAccess(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeTokenStore()
	issuer := newTestIssuer(t, store, &now)

	pair, err := issuer.Issue(context.Background(), "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, int64(900), pair.ExpiresIn)

	userID, err := issuer.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	// The refresh row subject is the row id, not the user id.
	row, err := store.GetRefreshToken(context.Background(), "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", row.UserID)
}

func TestVerifyAccessRejectsRefreshToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, newFakeTokenStore(), &now)

	pair, err := issuer.Issue(context.Background(), "user-1")
	require.NoError(t, err)

	_, err = issuer.VerifyAccess(pair.RefreshToken)
	assert.Equal(t, apperrors.CodeWrongTokenKind, apperrors.GetCode(err))
}

func TestVerifyAccessExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, newFakeTokenStore(), &now)

	pair, err := issuer.Issue(context.Background(), "user-1")
	require.NoError(t, err)

	now = now.Add(16 * time.Minute)
	_, err = issuer.VerifyAccess(pair.AccessToken)
	assert.Equal(t, apperrors.CodeTokenExpired, apperrors.GetCode(err))
}

func TestVerifyAccessWrongSecret(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, newFakeTokenStore(), &now)
	pair, err := issuer.Issue(context.Background(), "user-1")
	require.NoError(t, err)

	other, err := NewIssuer(Config{
		Secret: []byte("ffffffffffffffffffffffffffffffff"),
		Now:    func() time.Time { return now },
	}, newFakeTokenStore())
	require.NoError(t, err)

	_, err = other.VerifyAccess(pair.AccessToken)
	assert.Equal(t, apperrors.CodeSignatureInvalid, apperrors.GetCode(err))
}

func TestVerifyAccessGarbage(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, newFakeTokenStore(), &now)

	_, err := issuer.VerifyAccess("not-a-jwt")
	assert.Equal(t, apperrors.CodeSignatureInvalid, apperrors.GetCode(err))
}

func TestRefreshRotates(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeTokenStore()
	issuer := newTestIssuer(t, store, &now)

	pair, err := issuer.Issue(context.Background(), "user-1")
	require.NoError(t, err)

	now = now.Add(time.Hour)
	next, err := issuer.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	userID, err := issuer.VerifyAccess(next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	// The predecessor is dead after rotation.
	_, err = issuer.Refresh(context.Background(), pair.RefreshToken)
	assert.Equal(t, apperrors.CodeTokenRevoked, apperrors.GetCode(err))
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, newFakeTokenStore(), &now)

	pair, err := issuer.Issue(context.Background(), "user-1")
	require.NoError(t, err)

	_, err = issuer.Refresh(context.Background(), pair.AccessToken)
	assert.Equal(t, apperrors.CodeWrongTokenKind, apperrors.GetCode(err))
}

func TestRefreshUnknownRow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeTokenStore()
	issuer := newTestIssuer(t, store, &now)

	pair, err := issuer.Issue(context.Background(), "user-1")
	require.NoError(t, err)

	// Presenting a structurally valid refresh token whose row disappeared
	// must fail without revealing why.
	store.mu.Lock()
	delete(store.tokens, "rt-1")
	store.mu.Unlock()

	_, err = issuer.Refresh(context.Background(), pair.RefreshToken)
	assert.Equal(t, apperrors.CodeTokenNotFound, apperrors.GetCode(err))
}

func TestRevokeIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeTokenStore()
	issuer := newTestIssuer(t, store, &now)

	pair, err := issuer.Issue(context.Background(), "user-1")
	require.NoError(t, err)

	require.NoError(t, issuer.Revoke(context.Background(), pair.RefreshToken))
	require.NoError(t, issuer.Revoke(context.Background(), pair.RefreshToken))

	_, err = issuer.Refresh(context.Background(), pair.RefreshToken)
	assert.Equal(t, apperrors.CodeTokenRevoked, apperrors.GetCode(err))
}

func TestRevokeUnknownTokenSucceeds(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeTokenStore()
	issuer := newTestIssuer(t, store, &now)

	pair, err := issuer.Issue(context.Background(), "user-1")
	require.NoError(t, err)

	store.mu.Lock()
	delete(store.tokens, "rt-1")
	store.mu.Unlock()

	assert.NoError(t, issuer.Revoke(context.Background(), pair.RefreshToken))
}

func TestRevokedErrorIsCredential(t *testing.T) {
	err := storage.ErrTokenRevoked
	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.True(t, appErr.Code.IsCredential())
}
