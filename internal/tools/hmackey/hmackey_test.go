package hmackey

import (
	"bytes"
	"flag"
	"strings"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("hmackey", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Bytes != 32 {
		t.Fatalf("expected default bytes 32, got %d", cfg.Bytes)
	}
}

func TestParseConfigOverride(t *testing.T) {
	fs := flag.NewFlagSet("hmackey", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-bytes", "64"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Bytes != 64 {
		t.Fatalf("expected bytes 64, got %d", cfg.Bytes)
	}
}

func TestRunRejectsShortKeys(t *testing.T) {
	if err := Run(Config{Bytes: 16}, &bytes.Buffer{}, nil); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestRunWritesHexKey(t *testing.T) {
	var out bytes.Buffer
	source := bytes.NewReader(bytes.Repeat([]byte{0xAB}, 32))

	if err := Run(Config{Bytes: 32}, &out, source); err != nil {
		t.Fatalf("run: %v", err)
	}
	line := strings.TrimSpace(out.String())
	if !strings.HasPrefix(line, "PASSWORDLESS_JWT_SECRET=") {
		t.Fatalf("unexpected output %q", line)
	}
	if !strings.HasSuffix(line, strings.Repeat("ab", 32)) {
		t.Fatalf("unexpected key encoding %q", line)
	}
}

func TestRunTruncatedSource(t *testing.T) {
	if err := Run(Config{Bytes: 32}, &bytes.Buffer{}, bytes.NewReader([]byte{0x01})); err == nil {
		t.Fatal("expected error when entropy source is exhausted")
	}
}
