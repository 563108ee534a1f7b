// Package worker parses worker command flags and launches the email queue
// worker.
package worker

import (
	"context"
	"flag"

	"github.com/hoangsonww/passwordless-auth/internal/app"
	"github.com/hoangsonww/passwordless-auth/internal/mail"
	entrypoint "github.com/hoangsonww/passwordless-auth/internal/platform/cmd"
	"github.com/hoangsonww/passwordless-auth/internal/queue"
)

// Config holds worker command configuration.
type Config struct {
	DBPath string `env:"PASSWORDLESS_DB_PATH" envDefault:"data/auth.db"`
	Queue  queue.Config
	SMTP   mail.SMTPConfig
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The SQLite database path")
	fs.DurationVar(&cfg.Queue.PollInterval, "poll-interval", cfg.Queue.PollInterval, "Email queue poll interval")
	fs.IntVar(&cfg.Queue.BatchSize, "batch-size", cfg.Queue.BatchSize, "Jobs claimed per poll")
	fs.IntVar(&cfg.Queue.MaxAttempts, "max-attempts", cfg.Queue.MaxAttempts, "Delivery attempts before dead-letter")
	fs.DurationVar(&cfg.Queue.BackoffBase, "backoff-base", cfg.Queue.BackoffBase, "Base retry backoff delay")
	fs.DurationVar(&cfg.Queue.BackoffCap, "backoff-cap", cfg.Queue.BackoffCap, "Maximum retry backoff delay")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the worker loop.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceWorker, func(ctx context.Context) error {
		return app.RunWorker(ctx, app.WorkerConfig{
			DBPath: cfg.DBPath,
			Queue:  cfg.Queue,
			SMTP:   cfg.SMTP,
		})
	})
}
