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

// PutPasskeyCredential stores a WebAuthn credential.
func (s *Store) PutPasskeyCredential(ctx context.Context, credential storage.PasskeyCredential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credential.CredentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credential.UserID) == "" {
		return fmt.Errorf("credential user id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO webauthn_credentials (
	credential_id,
	user_id,
	public_key,
	sign_count,
	transports,
	credential_json,
	created_at,
	updated_at,
	last_used_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		credential.CredentialID,
		credential.UserID,
		credential.PublicKey,
		credential.SignCount,
		credential.Transports,
		credential.CredentialJSON,
		toMillis(credential.CreatedAt),
		toMillis(credential.UpdatedAt),
		nullableMillis(credential.LastUsedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrIntegrity
		}
		return fmt.Errorf("put passkey credential: %w", err)
	}
	return nil
}

// GetPasskeyCredential returns one credential by its credential ID.
func (s *Store) GetPasskeyCredential(ctx context.Context, credentialID string) (storage.PasskeyCredential, error) {
	if err := ctx.Err(); err != nil {
		return storage.PasskeyCredential{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.PasskeyCredential{}, fmt.Errorf("storage is not configured")
	}

	credentialID = strings.TrimSpace(credentialID)
	if credentialID == "" {
		return storage.PasskeyCredential{}, fmt.Errorf("credential id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT credential_id, user_id, public_key, sign_count, transports, credential_json, created_at, updated_at, last_used_at
FROM webauthn_credentials
WHERE credential_id = ?
`, credentialID)
	return scanPasskeyCredential(row.Scan)
}

// ListPasskeyCredentials returns every credential registered by a user.
func (s *Store) ListPasskeyCredentials(ctx context.Context, userID string) ([]storage.PasskeyCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT credential_id, user_id, public_key, sign_count, transports, credential_json, created_at, updated_at, last_used_at
FROM webauthn_credentials
WHERE user_id = ?
ORDER BY created_at ASC, credential_id ASC
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list passkey credentials: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	credentials := []storage.PasskeyCredential{}
	for rows.Next() {
		credential, scanErr := scanPasskeyCredential(rows.Scan)
		if scanErr != nil {
			return nil, scanErr
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate passkey credentials: %w", err)
	}
	return credentials, nil
}

// AdvanceSignCount commits a new authenticator counter only when it moves
// strictly forward. A stale counter means a possible credential clone, so
// the update refuses it instead of absorbing it.
func (s *Store) AdvanceSignCount(ctx context.Context, credentialID string, newCount uint32, credentialJSON string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	credentialID = strings.TrimSpace(credentialID)
	if credentialID == "" {
		return fmt.Errorf("credential id is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	now = now.UTC()

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE webauthn_credentials
SET sign_count = ?, credential_json = ?, updated_at = ?, last_used_at = ?
WHERE credential_id = ?
AND sign_count < ?
`,
		newCount,
		credentialJSON,
		toMillis(now),
		toMillis(now),
		credentialID,
		newCount,
	)
	if err != nil {
		return fmt.Errorf("advance sign count: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance sign count rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var exists int
		row := s.sqlDB.QueryRowContext(ctx, `
SELECT 1 FROM webauthn_credentials WHERE credential_id = ?
`, credentialID)
		if scanErr := row.Scan(&exists); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("check credential existence: %w", scanErr)
		}
		return storage.ErrSignCountRegression
	}
	return nil
}

// PutPendingChallenge stores an in-flight WebAuthn ceremony.
func (s *Store) PutPendingChallenge(ctx context.Context, challenge storage.PendingChallenge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(challenge.ID) == "" {
		return fmt.Errorf("challenge id is required")
	}
	if challenge.Purpose != storage.ChallengePurposeRegister && challenge.Purpose != storage.ChallengePurposeLogin {
		return fmt.Errorf("challenge purpose %q is not recognized", challenge.Purpose)
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO pending_challenges (id, user_id, purpose, serialized_options, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		challenge.ID,
		challenge.UserID,
		challenge.Purpose,
		challenge.SerializedOptions,
		toMillis(challenge.CreatedAt),
		toMillis(challenge.ExpiresAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrIntegrity
		}
		return fmt.Errorf("put pending challenge: %w", err)
	}
	return nil
}

// ConsumePendingChallenge deletes and returns the challenge in a single
// transaction, so completing a ceremony burns the challenge whether the
// completion succeeds or fails afterwards.
func (s *Store) ConsumePendingChallenge(ctx context.Context, id string) (storage.PendingChallenge, error) {
	if err := ctx.Err(); err != nil {
		return storage.PendingChallenge{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.PendingChallenge{}, fmt.Errorf("storage is not configured")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return storage.PendingChallenge{}, fmt.Errorf("challenge id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.PendingChallenge{}, fmt.Errorf("start consume challenge transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `
SELECT id, user_id, purpose, serialized_options, created_at, expires_at
FROM pending_challenges
WHERE id = ?
`, id)
	challenge, err := scanPendingChallenge(row.Scan)
	if err != nil {
		return storage.PendingChallenge{}, err
	}

	result, err := tx.ExecContext(ctx, `
DELETE FROM pending_challenges
WHERE id = ?
`, id)
	if err != nil {
		return storage.PendingChallenge{}, fmt.Errorf("delete pending challenge: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storage.PendingChallenge{}, fmt.Errorf("delete pending challenge rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.PendingChallenge{}, storage.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return storage.PendingChallenge{}, fmt.Errorf("commit consume challenge transaction: %w", err)
	}
	return challenge, nil
}

// DeleteExpiredChallenges removes ceremonies whose deadline has passed.
func (s *Store) DeleteExpiredChallenges(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM pending_challenges
WHERE expires_at <= ?
`, toMillis(now.UTC()))
	if err != nil {
		return fmt.Errorf("delete expired challenges: %w", err)
	}
	return nil
}

func scanPasskeyCredential(scan rowScanner) (storage.PasskeyCredential, error) {
	var credential storage.PasskeyCredential
	var createdAt int64
	var updatedAt int64
	var lastUsedAt sql.NullInt64
	if err := scan(
		&credential.CredentialID,
		&credential.UserID,
		&credential.PublicKey,
		&credential.SignCount,
		&credential.Transports,
		&credential.CredentialJSON,
		&createdAt,
		&updatedAt,
		&lastUsedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PasskeyCredential{}, storage.ErrNotFound
		}
		return storage.PasskeyCredential{}, fmt.Errorf("scan passkey credential: %w", err)
	}
	credential.CreatedAt = fromMillis(createdAt)
	credential.UpdatedAt = fromMillis(updatedAt)
	credential.LastUsedAt = millisPtr(lastUsedAt)
	return credential, nil
}

func scanPendingChallenge(scan rowScanner) (storage.PendingChallenge, error) {
	var challenge storage.PendingChallenge
	var createdAt int64
	var expiresAt int64
	if err := scan(
		&challenge.ID,
		&challenge.UserID,
		&challenge.Purpose,
		&challenge.SerializedOptions,
		&createdAt,
		&expiresAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PendingChallenge{}, storage.ErrNotFound
		}
		return storage.PendingChallenge{}, fmt.Errorf("scan pending challenge: %w", err)
	}
	challenge.CreatedAt = fromMillis(createdAt)
	challenge.ExpiresAt = fromMillis(expiresAt)
	return challenge, nil
}
