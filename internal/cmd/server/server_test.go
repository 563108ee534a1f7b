package server

import (
	"encoding/hex"
	"flag"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.DBPath != "data/auth.db" {
		t.Fatalf("expected default db path, got %q", cfg.DBPath)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("expected default access ttl, got %v", cfg.AccessTTL)
	}
	if cfg.WebAuthn.RPID != "localhost" {
		t.Fatalf("expected default rp id, got %q", cfg.WebAuthn.RPID)
	}
}

func TestParseConfigEnvAndFlags(t *testing.T) {
	t.Setenv("PASSWORDLESS_PORT", "9999")
	t.Setenv("PASSWORDLESS_BASE_URL", "https://auth.example.com")
	t.Setenv("PASSWORDLESS_WEBAUTHN_RP_ID", "auth.example.com")

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-port", "7070"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 7070 {
		t.Fatalf("flag must beat env, got %d", cfg.Port)
	}
	if cfg.BaseURL != "https://auth.example.com" {
		t.Fatalf("expected env base url, got %q", cfg.BaseURL)
	}
	if cfg.WebAuthn.RPID != "auth.example.com" {
		t.Fatalf("expected env rp id, got %q", cfg.WebAuthn.RPID)
	}
}

func TestDecodeSecretHex(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}

	decoded, err := decodeSecret(hex.EncodeToString(raw))
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	if len(decoded) != 32 || decoded[31] != 31 {
		t.Fatalf("unexpected decoded secret %v", decoded)
	}
}

func TestDecodeSecretRawFallback(t *testing.T) {
	secret := "not-hex-but-long-enough-to-use-raw!!"

	decoded, err := decodeSecret(secret)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	if string(decoded) != secret {
		t.Fatalf("expected raw passthrough, got %q", decoded)
	}
}

func TestDecodeSecretRequired(t *testing.T) {
	if _, err := decodeSecret(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
