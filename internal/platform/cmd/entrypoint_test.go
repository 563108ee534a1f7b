package cmd

import (
	"context"
	"errors"
	"flag"
	"testing"
)

func TestParseConfigNilTarget(t *testing.T) {
	var cfg *struct{}
	if err := ParseConfig(cfg); err == nil {
		t.Fatal("expected error for nil config target")
	}
}

func TestParseArgsNilFlagSet(t *testing.T) {
	if err := ParseArgs(nil, nil); err == nil {
		t.Fatal("expected error for nil flag set")
	}
}

func TestParseArgsNilArgs(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	if err := ParseArgs(fs, nil); err != nil {
		t.Fatalf("parse args: %v", err)
	}
}

func TestRunWithTelemetryRequiresService(t *testing.T) {
	err := RunWithTelemetry(context.Background(), "  ", func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected error for empty service name")
	}
}

func TestRunWithTelemetryRequiresRun(t *testing.T) {
	err := RunWithTelemetry(context.Background(), ServiceServer, nil)
	if err == nil {
		t.Fatal("expected error for nil run function")
	}
}

func TestRunWithTelemetryPropagatesRunError(t *testing.T) {
	t.Setenv("PASSWORDLESS_OTEL_ENDPOINT", "")

	wantErr := errors.New("run failed")
	err := RunWithTelemetry(context.Background(), ServiceWorker, func(context.Context) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected run error, got %v", err)
	}
}
