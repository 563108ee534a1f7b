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

// EnqueueEmailJob inserts one outbound message into the delivery queue.
func (s *Store) EnqueueEmailJob(ctx context.Context, job storage.EmailJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("email job id is required")
	}
	if strings.TrimSpace(job.To) == "" {
		return fmt.Errorf("email job recipient is required")
	}

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.NextTryAt.IsZero() {
		job.NextTryAt = job.CreatedAt
	}
	if job.Status == "" {
		job.Status = storage.EmailJobStatusPending
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO email_queue (
	id,
	to_email,
	subject,
	body_text,
	body_html,
	attempts,
	last_error,
	next_try_at,
	created_at,
	sent_at,
	status
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		job.ID,
		job.To,
		job.Subject,
		job.BodyText,
		job.BodyHTML,
		job.Attempts,
		job.LastError,
		toMillis(job.NextTryAt),
		toMillis(job.CreatedAt),
		nullableMillis(job.SentAt),
		job.Status,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrIntegrity
		}
		return fmt.Errorf("enqueue email job: %w", err)
	}
	return nil
}

// GetEmailJob returns one queued message by ID.
func (s *Store) GetEmailJob(ctx context.Context, id string) (storage.EmailJob, error) {
	if err := ctx.Err(); err != nil {
		return storage.EmailJob{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.EmailJob{}, fmt.Errorf("storage is not configured")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return storage.EmailJob{}, fmt.Errorf("email job id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, to_email, subject, body_text, body_html, attempts, last_error, next_try_at, created_at, sent_at, status
FROM email_queue
WHERE id = ?
`, id)
	return scanEmailJob(row.Scan)
}

// DueEmailJobs returns pending jobs whose next_try_at has passed, oldest
// first.
func (s *Store) DueEmailJobs(ctx context.Context, now time.Time, limit int) ([]storage.EmailJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, to_email, subject, body_text, body_html, attempts, last_error, next_try_at, created_at, sent_at, status
FROM email_queue
WHERE status = ?
AND next_try_at <= ?
ORDER BY next_try_at ASC, created_at ASC, id ASC
LIMIT ?
`, storage.EmailJobStatusPending, toMillis(now.UTC()), limit)
	if err != nil {
		return nil, fmt.Errorf("select due email jobs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	jobs := []storage.EmailJob{}
	for rows.Next() {
		job, scanErr := scanEmailJob(rows.Scan)
		if scanErr != nil {
			return nil, scanErr
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due email jobs: %w", err)
	}
	return jobs, nil
}

// ClaimEmailJob transitions a job from pending to sending. The conditional
// update is the lease: a false return means another worker already holds the
// job or it is no longer due.
func (s *Store) ClaimEmailJob(ctx context.Context, id string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return false, fmt.Errorf("email job id is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE email_queue
SET status = ?
WHERE id = ?
AND status = ?
AND next_try_at <= ?
`,
		storage.EmailJobStatusSending,
		id,
		storage.EmailJobStatusPending,
		toMillis(now.UTC()),
	)
	if err != nil {
		return false, fmt.Errorf("claim email job: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim email job rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// MarkEmailJobSent finishes a claimed job.
func (s *Store) MarkEmailJobSent(ctx context.Context, id string, sentAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("email job id is required")
	}
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE email_queue
SET status = ?, sent_at = ?, last_error = ''
WHERE id = ?
AND status = ?
`,
		storage.EmailJobStatusSent,
		toMillis(sentAt.UTC()),
		id,
		storage.EmailJobStatusSending,
	)
	if err != nil {
		return fmt.Errorf("mark email job sent: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark email job sent rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MarkEmailJobRetry returns a claimed job to pending with an incremented
// attempt count and a future next_try_at.
func (s *Store) MarkEmailJobRetry(ctx context.Context, id string, lastError string, nextTryAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("email job id is required")
	}
	if nextTryAt.IsZero() {
		return fmt.Errorf("next try at is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE email_queue
SET status = ?, attempts = attempts + 1, last_error = ?, next_try_at = ?
WHERE id = ?
AND status = ?
`,
		storage.EmailJobStatusPending,
		strings.TrimSpace(lastError),
		toMillis(nextTryAt.UTC()),
		id,
		storage.EmailJobStatusSending,
	)
	if err != nil {
		return fmt.Errorf("mark email job retry: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark email job retry rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MarkEmailJobFailed dead-letters a claimed job after its final attempt.
func (s *Store) MarkEmailJobFailed(ctx context.Context, id string, lastError string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("email job id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE email_queue
SET status = ?, attempts = attempts + 1, last_error = ?
WHERE id = ?
AND status = ?
`,
		storage.EmailJobStatusFailed,
		strings.TrimSpace(lastError),
		id,
		storage.EmailJobStatusSending,
	)
	if err != nil {
		return fmt.Errorf("mark email job failed: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark email job failed rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanEmailJob(scan rowScanner) (storage.EmailJob, error) {
	var job storage.EmailJob
	var nextTryAt int64
	var createdAt int64
	var sentAt sql.NullInt64
	if err := scan(
		&job.ID,
		&job.To,
		&job.Subject,
		&job.BodyText,
		&job.BodyHTML,
		&job.Attempts,
		&job.LastError,
		&nextTryAt,
		&createdAt,
		&sentAt,
		&job.Status,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.EmailJob{}, storage.ErrNotFound
		}
		return storage.EmailJob{}, fmt.Errorf("scan email job: %w", err)
	}
	job.NextTryAt = fromMillis(nextTryAt)
	job.CreatedAt = fromMillis(createdAt)
	job.SentAt = millisPtr(sentAt)
	return job, nil
}
