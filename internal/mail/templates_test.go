package mail

import (
	"strings"
	"testing"
	"time"
)

func TestMagicLinkMessage(t *testing.T) {
	msg := MagicLinkMessage("user@example.com", "https://idp.example.com/magiclink/verify?token=abc", 15*time.Minute)

	if msg.To != "user@example.com" {
		t.Fatalf("unexpected recipient %q", msg.To)
	}
	if msg.Subject == "" {
		t.Fatal("expected a subject")
	}
	if !strings.Contains(msg.BodyText, "token=abc") {
		t.Fatalf("text body must carry the link: %q", msg.BodyText)
	}
	if !strings.Contains(msg.BodyText, "15 minutes") {
		t.Fatalf("text body must state the expiry: %q", msg.BodyText)
	}
	if !strings.Contains(msg.BodyHTML, `href="https://idp.example.com/magiclink/verify?token=abc"`) {
		t.Fatalf("html body must link the URL: %q", msg.BodyHTML)
	}
}

func TestMagicLinkMessageEscapesHTML(t *testing.T) {
	msg := MagicLinkMessage("user@example.com", `https://idp.example.com/verify?a=1&b=2`, time.Minute)
	if strings.Contains(msg.BodyHTML, "&b=") {
		t.Fatalf("html body must escape ampersands: %q", msg.BodyHTML)
	}
	if !strings.Contains(msg.BodyHTML, "&amp;b=2") {
		t.Fatalf("html body must keep the escaped query: %q", msg.BodyHTML)
	}
}

func TestNewSMTPTransportValidation(t *testing.T) {
	if _, err := NewSMTPTransport(SMTPConfig{From: "idp@example.com"}); err == nil {
		t.Fatal("expected error for missing host")
	}
	if _, err := NewSMTPTransport(SMTPConfig{Host: "localhost"}); err == nil {
		t.Fatal("expected error for missing from address")
	}
}
