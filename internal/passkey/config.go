package passkey

import (
	"time"
)

// Config controls WebAuthn relying party settings.
type Config struct {
	RPDisplayName string        `env:"PASSWORDLESS_WEBAUTHN_RP_DISPLAY_NAME" envDefault:"Passwordless Auth"`
	RPID          string        `env:"PASSWORDLESS_WEBAUTHN_RP_ID"           envDefault:"localhost"`
	RPOrigins     []string      `env:"PASSWORDLESS_WEBAUTHN_RP_ORIGINS"      envSeparator:"," envDefault:"http://localhost:8080"`
	ChallengeTTL  time.Duration `env:"PASSWORDLESS_WEBAUTHN_CHALLENGE_TTL"   envDefault:"5m"`
}
