package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hoangsonww/passwordless-auth/internal/storage"
	"github.com/hoangsonww/passwordless-auth/internal/user"
)

// isUniqueViolation detects SQLite uniqueness constraint failures.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// PutUser persists a user record.
func (s *Store) PutUser(ctx context.Context, u user.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(u.Email) == "" {
		return fmt.Errorf("user email is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO users (id, email, totp_secret, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	email = excluded.email,
	totp_secret = excluded.totp_secret,
	updated_at = excluded.updated_at
`,
		u.ID,
		u.Email,
		u.TOTPSecret,
		toMillis(u.CreatedAt),
		toMillis(u.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrIntegrity
		}
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// GetUser returns one user by ID.
func (s *Store) GetUser(ctx context.Context, userID string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return user.User{}, fmt.Errorf("storage is not configured")
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return user.User{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, email, totp_secret, created_at, updated_at
FROM users
WHERE id = ?
`, userID)
	return scanUser(row.Scan)
}

// GetUserByEmail returns one user by normalized email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return user.User{}, fmt.Errorf("storage is not configured")
	}

	email = strings.TrimSpace(email)
	if email == "" {
		return user.User{}, fmt.Errorf("email is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, email, totp_secret, created_at, updated_at
FROM users
WHERE email = ?
`, email)
	return scanUser(row.Scan)
}

// GetOrCreateUser inserts the candidate unless the email is already taken,
// then returns the surviving row. The insert and the read happen in one
// transaction so concurrent callers converge on a single user.
func (s *Store) GetOrCreateUser(ctx context.Context, candidate user.User) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return user.User{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(candidate.ID) == "" {
		return user.User{}, fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(candidate.Email) == "" {
		return user.User{}, fmt.Errorf("user email is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return user.User{}, fmt.Errorf("start get-or-create transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO users (id, email, totp_secret, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(email) DO NOTHING
`,
		candidate.ID,
		candidate.Email,
		candidate.TOTPSecret,
		toMillis(candidate.CreatedAt),
		toMillis(candidate.UpdatedAt),
	)
	if err != nil {
		return user.User{}, fmt.Errorf("insert candidate user: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
SELECT id, email, totp_secret, created_at, updated_at
FROM users
WHERE email = ?
`, candidate.Email)
	existing, err := scanUser(row.Scan)
	if err != nil {
		return user.User{}, err
	}

	if err := tx.Commit(); err != nil {
		return user.User{}, fmt.Errorf("commit get-or-create transaction: %w", err)
	}
	return existing, nil
}

// SetTOTPSecret overwrites the stored shared secret for a user.
func (s *Store) SetTOTPSecret(ctx context.Context, userID string, secret string, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE users
SET totp_secret = ?, updated_at = ?
WHERE id = ?
`, secret, toMillis(updatedAt), userID)
	if err != nil {
		return fmt.Errorf("set totp secret: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set totp secret rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type rowScanner func(dest ...any) error

func scanUser(scan rowScanner) (user.User, error) {
	var u user.User
	var createdAt int64
	var updatedAt int64
	if err := scan(&u.ID, &u.Email, &u.TOTPSecret, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, storage.ErrNotFound
		}
		return user.User{}, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}
