package app

import (
	"context"
	"fmt"
	"log"

	"github.com/hoangsonww/passwordless-auth/internal/mail"
	"github.com/hoangsonww/passwordless-auth/internal/queue"
	"github.com/hoangsonww/passwordless-auth/internal/storage/sqlite"
)

// WorkerConfig carries everything the delivery worker needs at startup.
type WorkerConfig struct {
	DBPath string
	Queue  queue.Config
	SMTP   mail.SMTPConfig
}

// RunWorker drains the email queue until the context ends.
func RunWorker(ctx context.Context, cfg WorkerConfig) error {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	transport, err := mail.NewSMTPTransport(cfg.SMTP)
	if err != nil {
		return err
	}

	worker, err := queue.NewWorker(cfg.Queue, store, transport, log.Default())
	if err != nil {
		return err
	}
	log.Printf("email worker polling every %s", cfg.Queue.PollInterval)
	return worker.Run(ctx)
}
