package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hoangsonww/passwordless-auth/internal/storage"
)

// PutRefreshToken stores a refresh token record.
func (s *Store) PutRefreshToken(ctx context.Context, token storage.RefreshToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(token.Token) == "" {
		return fmt.Errorf("refresh token id is required")
	}
	if strings.TrimSpace(token.UserID) == "" {
		return fmt.Errorf("refresh token user id is required")
	}

	revoked := 0
	if token.Revoked {
		revoked = 1
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO refresh_tokens (token, user_id, created_at, expires_at, revoked, revoked_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		token.Token,
		token.UserID,
		toMillis(token.CreatedAt),
		toMillis(token.ExpiresAt),
		revoked,
		nullableMillis(token.RevokedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrIntegrity
		}
		return fmt.Errorf("put refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken returns one refresh token by its opaque identifier.
func (s *Store) GetRefreshToken(ctx context.Context, id string) (storage.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return storage.RefreshToken{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.RefreshToken{}, fmt.Errorf("storage is not configured")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return storage.RefreshToken{}, fmt.Errorf("refresh token id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT token, user_id, created_at, expires_at, revoked, revoked_at
FROM refresh_tokens
WHERE token = ?
`, id)
	return scanRefreshToken(row.Scan)
}

// RotateRefreshToken revokes the predecessor and inserts its successor in one
// transaction. The conditional revoke arbitrates concurrent rotations of the
// same token: losers observe ErrTokenRevoked and never mint a successor.
func (s *Store) RotateRefreshToken(ctx context.Context, oldID string, successor storage.RefreshToken, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	oldID = strings.TrimSpace(oldID)
	if oldID == "" {
		return fmt.Errorf("refresh token id is required")
	}
	if strings.TrimSpace(successor.Token) == "" {
		return fmt.Errorf("successor token id is required")
	}
	if strings.TrimSpace(successor.UserID) == "" {
		return fmt.Errorf("successor user id is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	now = now.UTC()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start rotate transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
UPDATE refresh_tokens
SET revoked = 1, revoked_at = ?
WHERE token = ?
AND revoked = 0
AND expires_at > ?
`, toMillis(now), oldID, toMillis(now))
	if err != nil {
		return fmt.Errorf("revoke predecessor token: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke predecessor rows affected: %w", err)
	}
	if rowsAffected == 0 {
		row := tx.QueryRowContext(ctx, `
SELECT token, user_id, created_at, expires_at, revoked, revoked_at
FROM refresh_tokens
WHERE token = ?
`, oldID)
		predecessor, scanErr := scanRefreshToken(row.Scan)
		if scanErr != nil {
			return scanErr
		}
		if predecessor.Revoked {
			return storage.ErrTokenRevoked
		}
		return storage.ErrTokenExpired
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO refresh_tokens (token, user_id, created_at, expires_at, revoked, revoked_at)
VALUES (?, ?, ?, ?, 0, NULL)
`,
		successor.Token,
		successor.UserID,
		toMillis(successor.CreatedAt),
		toMillis(successor.ExpiresAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrIntegrity
		}
		return fmt.Errorf("insert successor token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rotate transaction: %w", err)
	}
	return nil
}

// RevokeRefreshToken marks a token revoked. Revoking an already revoked
// token succeeds so logout stays idempotent.
func (s *Store) RevokeRefreshToken(ctx context.Context, id string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("refresh token id is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE refresh_tokens
SET revoked = 1, revoked_at = COALESCE(revoked_at, ?)
WHERE token = ?
`, toMillis(now.UTC()), id)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke refresh token rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanRefreshToken(scan rowScanner) (storage.RefreshToken, error) {
	var token storage.RefreshToken
	var createdAt int64
	var expiresAt int64
	var revoked int
	var revokedAt sql.NullInt64
	if err := scan(&token.Token, &token.UserID, &createdAt, &expiresAt, &revoked, &revokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.RefreshToken{}, storage.ErrNotFound
		}
		return storage.RefreshToken{}, fmt.Errorf("scan refresh token: %w", err)
	}
	token.CreatedAt = fromMillis(createdAt)
	token.ExpiresAt = fromMillis(expiresAt)
	token.Revoked = revoked != 0
	token.RevokedAt = millisPtr(revokedAt)
	return token, nil
}
