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

// PutMagicLink stores a magic link token.
func (s *Store) PutMagicLink(ctx context.Context, link storage.MagicLink) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(link.Token) == "" {
		return fmt.Errorf("magic link token is required")
	}
	if strings.TrimSpace(link.UserID) == "" {
		return fmt.Errorf("magic link user id is required")
	}

	used := 0
	if link.Used {
		used = 1
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO magic_links (token, user_id, email, created_at, expires_at, used, used_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		link.Token,
		link.UserID,
		link.Email,
		toMillis(link.CreatedAt),
		toMillis(link.ExpiresAt),
		used,
		nullableMillis(link.UsedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrIntegrity
		}
		return fmt.Errorf("put magic link: %w", err)
	}
	return nil
}

// GetMagicLink returns one magic link by token.
func (s *Store) GetMagicLink(ctx context.Context, token string) (storage.MagicLink, error) {
	if err := ctx.Err(); err != nil {
		return storage.MagicLink{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.MagicLink{}, fmt.Errorf("storage is not configured")
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return storage.MagicLink{}, fmt.Errorf("magic link token is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT token, user_id, email, created_at, expires_at, used, used_at
FROM magic_links
WHERE token = ?
`, token)
	return scanMagicLink(row.Scan)
}

// ConsumeMagicLink flips the used flag from false to true and returns the
// link. The conditional update is the single point of truth: exactly one of
// any number of concurrent callers observes a row flip, so a link grants at
// most one login.
func (s *Store) ConsumeMagicLink(ctx context.Context, token string, now time.Time) (storage.MagicLink, error) {
	if err := ctx.Err(); err != nil {
		return storage.MagicLink{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.MagicLink{}, fmt.Errorf("storage is not configured")
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return storage.MagicLink{}, fmt.Errorf("magic link token is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	now = now.UTC()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.MagicLink{}, fmt.Errorf("start consume transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
UPDATE magic_links
SET used = 1, used_at = ?
WHERE token = ?
AND used = 0
AND expires_at > ?
`, toMillis(now), token, toMillis(now))
	if err != nil {
		return storage.MagicLink{}, fmt.Errorf("consume magic link: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storage.MagicLink{}, fmt.Errorf("consume magic link rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Classify the refusal without giving the losing caller a window
		// to observe intermediate state.
		row := tx.QueryRowContext(ctx, `
SELECT token, user_id, email, created_at, expires_at, used, used_at
FROM magic_links
WHERE token = ?
`, token)
		link, scanErr := scanMagicLink(row.Scan)
		if scanErr != nil {
			return storage.MagicLink{}, scanErr
		}
		if link.Used {
			return storage.MagicLink{}, storage.ErrLinkUsed
		}
		return storage.MagicLink{}, storage.ErrLinkExpired
	}

	row := tx.QueryRowContext(ctx, `
SELECT token, user_id, email, created_at, expires_at, used, used_at
FROM magic_links
WHERE token = ?
`, token)
	link, err := scanMagicLink(row.Scan)
	if err != nil {
		return storage.MagicLink{}, err
	}

	if err := tx.Commit(); err != nil {
		return storage.MagicLink{}, fmt.Errorf("commit consume transaction: %w", err)
	}
	return link, nil
}

func scanMagicLink(scan rowScanner) (storage.MagicLink, error) {
	var link storage.MagicLink
	var createdAt int64
	var expiresAt int64
	var used int
	var usedAt sql.NullInt64
	if err := scan(&link.Token, &link.UserID, &link.Email, &createdAt, &expiresAt, &used, &usedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.MagicLink{}, storage.ErrNotFound
		}
		return storage.MagicLink{}, fmt.Errorf("scan magic link: %w", err)
	}
	link.CreatedAt = fromMillis(createdAt)
	link.ExpiresAt = fromMillis(expiresAt)
	link.Used = used != 0
	link.UsedAt = millisPtr(usedAt)
	return link, nil
}
