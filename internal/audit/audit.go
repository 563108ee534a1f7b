// Package audit records security-relevant authentication events.
//
// The sink boundary exists so deployments can forward events to an external
// collector; the default sink writes structured lines to the process log.
package audit

import (
	"context"
	"log"
	"time"
)

// Kind names one auditable event.
type Kind string

const (
	KindMagicLinkRequested Kind = "magic_link_requested"
	KindMagicLinkVerified  Kind = "magic_link_verified"
	KindTotpEnrolled       Kind = "totp_enrolled"
	KindTotpVerified       Kind = "totp_verified"
	KindPasskeyRegistered  Kind = "passkey_registered"
	KindPasskeyLogin       Kind = "passkey_login"
	KindTokenRefreshed     Kind = "token_refreshed"
	KindTokenRevoked       Kind = "token_revoked"
	KindLoginFailed        Kind = "login_failed"
)

// Event is one auditable occurrence. UserID and Detail may be empty when the
// actor is unknown, which is itself worth recording.
type Event struct {
	Kind   Kind
	UserID string
	Detail string
	At     time.Time
}

// Sink receives audit events. Implementations must not block request
// handling; an event that cannot be recorded is dropped, never fatal.
type Sink interface {
	Record(ctx context.Context, event Event)
}

// LogSink writes events to a standard logger.
type LogSink struct {
	Logger *log.Logger
	Now    func() time.Time
}

// NewLogSink builds the default sink.
func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.Default()
	}
	return &LogSink{Logger: logger, Now: time.Now}
}

// Record writes one event line.
func (s *LogSink) Record(_ context.Context, event Event) {
	if event.At.IsZero() {
		now := time.Now
		if s.Now != nil {
			now = s.Now
		}
		event.At = now().UTC()
	}
	if event.UserID == "" {
		event.UserID = "-"
	}
	if event.Detail == "" {
		s.Logger.Printf("audit kind=%s user=%s at=%s", event.Kind, event.UserID, event.At.Format(time.RFC3339))
		return
	}
	s.Logger.Printf("audit kind=%s user=%s at=%s detail=%q", event.Kind, event.UserID, event.At.Format(time.RFC3339), event.Detail)
}

// NopSink discards every event.
type NopSink struct{}

// Record does nothing.
func (NopSink) Record(context.Context, Event) {}
