package worker

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.DBPath != "data/auth.db" {
		t.Fatalf("expected default db path, got %q", cfg.DBPath)
	}
	if cfg.Queue.PollInterval != 5*time.Second {
		t.Fatalf("expected default poll interval, got %v", cfg.Queue.PollInterval)
	}
	if cfg.Queue.MaxAttempts != 5 {
		t.Fatalf("expected default max attempts, got %d", cfg.Queue.MaxAttempts)
	}
	if cfg.SMTP.Port != 587 {
		t.Fatalf("expected default smtp port, got %d", cfg.SMTP.Port)
	}
}

func TestParseConfigEnvAndFlags(t *testing.T) {
	t.Setenv("PASSWORDLESS_QUEUE_MAX_ATTEMPTS", "8")
	t.Setenv("PASSWORDLESS_SMTP_HOST", "smtp.example.com")

	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-poll-interval", "1s", "-db-path", "other.db"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Queue.PollInterval != time.Second {
		t.Fatalf("flag must beat default, got %v", cfg.Queue.PollInterval)
	}
	if cfg.DBPath != "other.db" {
		t.Fatalf("expected flag db path, got %q", cfg.DBPath)
	}
	if cfg.Queue.MaxAttempts != 8 {
		t.Fatalf("expected env max attempts, got %d", cfg.Queue.MaxAttempts)
	}
	if cfg.SMTP.Host != "smtp.example.com" {
		t.Fatalf("expected env smtp host, got %q", cfg.SMTP.Host)
	}
}
