// Package mail delivers outbound email for login flows.
package mail

import (
	"context"
	"fmt"
	"strings"

	gomail "github.com/wneessen/go-mail"
)

// Message is one outbound email.
type Message struct {
	To       string
	Subject  string
	BodyText string
	BodyHTML string
}

// Transport sends a single message. Implementations must be safe for
// concurrent use; the queue worker calls Send from its delivery loop.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig configures the SMTP transport.
type SMTPConfig struct {
	Host     string `env:"PASSWORDLESS_SMTP_HOST"`
	Port     int    `env:"PASSWORDLESS_SMTP_PORT" envDefault:"587"`
	Username string `env:"PASSWORDLESS_SMTP_USERNAME"`
	Password string `env:"PASSWORDLESS_SMTP_PASSWORD"`
	From     string `env:"PASSWORDLESS_SMTP_FROM"`
}

// SMTPTransport delivers messages over SMTP.
type SMTPTransport struct {
	client *gomail.Client
	from   string
}

// NewSMTPTransport builds an SMTP transport from config.
func NewSMTPTransport(cfg SMTPConfig) (*SMTPTransport, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}

	options := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		options = append(options,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	client, err := gomail.NewClient(cfg.Host, options...)
	if err != nil {
		return nil, fmt.Errorf("build smtp client: %w", err)
	}
	return &SMTPTransport{client: client, from: cfg.From}, nil
}

// Send delivers one message, honoring context cancellation.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("message recipient is required")
	}

	out := gomail.NewMsg()
	if err := out.From(t.from); err != nil {
		return fmt.Errorf("set from address: %w", err)
	}
	if err := out.To(msg.To); err != nil {
		return fmt.Errorf("set to address: %w", err)
	}
	out.Subject(msg.Subject)
	out.SetBodyString(gomail.TypeTextPlain, msg.BodyText)
	if msg.BodyHTML != "" {
		out.AddAlternativeString(gomail.TypeTextHTML, msg.BodyHTML)
	}

	if err := t.client.DialAndSendWithContext(ctx, out); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
