// Package server parses server command flags and launches the HTTP runtime.
package server

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"time"

	"github.com/hoangsonww/passwordless-auth/internal/app"
	"github.com/hoangsonww/passwordless-auth/internal/passkey"
	entrypoint "github.com/hoangsonww/passwordless-auth/internal/platform/cmd"
)

// Config holds server command configuration.
type Config struct {
	Port            int            `env:"PASSWORDLESS_PORT" envDefault:"8080"`
	DBPath          string         `env:"PASSWORDLESS_DB_PATH" envDefault:"data/auth.db"`
	JWTSecret       string         `env:"PASSWORDLESS_JWT_SECRET"`
	AccessTTL       time.Duration  `env:"PASSWORDLESS_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL      time.Duration  `env:"PASSWORDLESS_REFRESH_TTL" envDefault:"720h"`
	BaseURL         string         `env:"PASSWORDLESS_BASE_URL" envDefault:"http://localhost:8080"`
	MagicLinkTTL    time.Duration  `env:"PASSWORDLESS_MAGIC_LINK_TTL" envDefault:"15m"`
	TOTPIssuer      string         `env:"PASSWORDLESS_TOTP_ISSUER" envDefault:"Passwordless Auth"`
	CleanupInterval time.Duration  `env:"PASSWORDLESS_CLEANUP_INTERVAL" envDefault:"5m"`
	WebAuthn        passkey.Config
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The HTTP server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The SQLite database path")
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Public base URL used in magic links")
	fs.DurationVar(&cfg.MagicLinkTTL, "magic-link-ttl", cfg.MagicLinkTTL, "Magic link validity window")
	fs.DurationVar(&cfg.AccessTTL, "access-ttl", cfg.AccessTTL, "Access token validity window")
	fs.DurationVar(&cfg.RefreshTTL, "refresh-ttl", cfg.RefreshTTL, "Refresh token validity window")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the HTTP server.
func Run(ctx context.Context, cfg Config) error {
	secret, err := decodeSecret(cfg.JWTSecret)
	if err != nil {
		return err
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceServer, func(ctx context.Context) error {
		return app.RunServer(ctx, app.ServerConfig{
			Addr:            fmt.Sprintf(":%d", cfg.Port),
			DBPath:          cfg.DBPath,
			JWTSecret:       secret,
			AccessTTL:       cfg.AccessTTL,
			RefreshTTL:      cfg.RefreshTTL,
			BaseURL:         cfg.BaseURL,
			MagicLinkTTL:    cfg.MagicLinkTTL,
			TOTPIssuer:      cfg.TOTPIssuer,
			WebAuthn:        cfg.WebAuthn,
			CleanupInterval: cfg.CleanupInterval,
		})
	})
}

// decodeSecret accepts the hex output of the hmac-key tool, or a raw string
// for hand-provisioned secrets.
func decodeSecret(raw string) ([]byte, error) {
	if raw == "" {
		return nil, fmt.Errorf("PASSWORDLESS_JWT_SECRET is required")
	}
	if decoded, err := hex.DecodeString(raw); err == nil {
		return decoded, nil
	}
	return []byte(raw), nil
}
