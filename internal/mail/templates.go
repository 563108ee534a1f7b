package mail

import (
	"fmt"
	"html"
	"time"
)

// MagicLinkMessage renders the sign-in email for a magic link.
func MagicLinkMessage(to, linkURL string, ttl time.Duration) Message {
	minutes := int(ttl.Minutes())
	text := fmt.Sprintf(
		"Use the link below to sign in:\n\n%s\n\nThe link expires in %d minutes and can be used once. If you did not request it, you can ignore this email.\n",
		linkURL, minutes,
	)
	escaped := html.EscapeString(linkURL)
	htmlBody := fmt.Sprintf(
		`<p>Use the link below to sign in:</p><p><a href="%s">%s</a></p><p>The link expires in %d minutes and can be used once. If you did not request it, you can ignore this email.</p>`,
		escaped, escaped, minutes,
	)
	return Message{
		To:       to,
		Subject:  "Your sign-in link",
		BodyText: text,
		BodyHTML: htmlBody,
	}
}
