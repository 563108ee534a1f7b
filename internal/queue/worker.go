// Package queue drains the email delivery queue.
//
// Delivery is at-least-once: a job survives process crashes because the
// claim, the send, and the acknowledgement are separate store transitions,
// and the backoff schedule lives in the job row rather than in memory.
package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hoangsonww/passwordless-auth/internal/mail"
	"github.com/hoangsonww/passwordless-auth/internal/storage"
)

// Config tunes the delivery loop.
type Config struct {
	PollInterval time.Duration `env:"PASSWORDLESS_QUEUE_POLL_INTERVAL" envDefault:"5s"`
	BatchSize    int           `env:"PASSWORDLESS_QUEUE_BATCH_SIZE" envDefault:"25"`
	SendTimeout  time.Duration `env:"PASSWORDLESS_QUEUE_SEND_TIMEOUT" envDefault:"30s"`
	BackoffBase  time.Duration `env:"PASSWORDLESS_QUEUE_BACKOFF_BASE" envDefault:"1m"`
	BackoffCap   time.Duration `env:"PASSWORDLESS_QUEUE_BACKOFF_CAP" envDefault:"1h"`
	MaxAttempts  int           `env:"PASSWORDLESS_QUEUE_MAX_ATTEMPTS" envDefault:"5"`
}

// Worker polls for due jobs, claims them, and delivers them.
type Worker struct {
	cfg       Config
	jobs      storage.EmailJobStore
	transport mail.Transport
	logger    *log.Logger
	now       func() time.Time
}

// NewWorker builds a queue worker.
func NewWorker(cfg Config, jobs storage.EmailJobStore, transport mail.Transport, logger *log.Logger) (*Worker, error) {
	if jobs == nil {
		return nil, fmt.Errorf("email job store is required")
	}
	if transport == nil {
		return nil, fmt.Errorf("mail transport is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Minute
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = time.Hour
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Worker{
		cfg:       cfg,
		jobs:      jobs,
		transport: transport,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Run drains the queue until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil {
			w.logger.Printf("queue poll failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single poll-claim-deliver pass.
func (w *Worker) RunOnce(ctx context.Context) error {
	now := w.now().UTC()
	due, err := w.jobs.DueEmailJobs(ctx, now, w.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list due email jobs: %w", err)
	}

	for _, job := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		claimed, err := w.jobs.ClaimEmailJob(ctx, job.ID, now)
		if err != nil {
			return fmt.Errorf("claim email job %s: %w", job.ID, err)
		}
		if !claimed {
			continue
		}
		w.deliver(ctx, job)
	}
	return nil
}

// deliver sends one claimed job and records the outcome.
func (w *Worker) deliver(ctx context.Context, job storage.EmailJob) {
	sendCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	defer cancel()

	err := w.transport.Send(sendCtx, mail.Message{
		To:       job.To,
		Subject:  job.Subject,
		BodyText: job.BodyText,
		BodyHTML: job.BodyHTML,
	})
	if err == nil {
		if markErr := w.jobs.MarkEmailJobSent(ctx, job.ID, w.now().UTC()); markErr != nil {
			w.logger.Printf("mark email job %s sent: %v", job.ID, markErr)
		}
		return
	}

	// job.Attempts counts finished tries; this failure is attempt N+1.
	attempts := job.Attempts + 1
	if attempts >= w.cfg.MaxAttempts {
		w.logger.Printf("email job %s failed permanently after %d attempts: %v", job.ID, attempts, err)
		if markErr := w.jobs.MarkEmailJobFailed(ctx, job.ID, err.Error()); markErr != nil {
			w.logger.Printf("mark email job %s failed: %v", job.ID, markErr)
		}
		return
	}

	nextTryAt := w.now().UTC().Add(Backoff(w.cfg, job.Attempts))
	w.logger.Printf("email job %s attempt %d failed, retrying at %s: %v", job.ID, attempts, nextTryAt.Format(time.RFC3339), err)
	if markErr := w.jobs.MarkEmailJobRetry(ctx, job.ID, err.Error(), nextTryAt); markErr != nil {
		w.logger.Printf("mark email job %s retry: %v", job.ID, markErr)
	}
}

// Backoff returns the delay before the next try after the given number of
// completed attempts: base doubled per attempt, capped.
func Backoff(cfg Config, attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	delay := cfg.BackoffBase
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= cfg.BackoffCap {
			return cfg.BackoffCap
		}
	}
	if delay > cfg.BackoffCap {
		return cfg.BackoffCap
	}
	return delay
}
