// Package totp implements RFC 6238 time-based one-time passwords.
//
// Codes are six digits over HMAC-SHA1 with a 30 second step, which is what
// every mainstream authenticator app produces by default. Verification is
// pure: it derives candidate codes from the shared secret and the clock and
// never mutates stored state.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/hoangsonww/passwordless-auth/internal/platform/errors"
)

const (
	secretBytes = 20
	digits      = 6
	period      = 30 * time.Second
)

// base32NoPad encodes shared secrets the way authenticator apps expect them.
var base32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret returns a new random shared secret in its base32 transport
// form.
func GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate totp secret: %w", err)
	}
	return base32NoPad.EncodeToString(raw), nil
}

// ProvisioningURL builds the otpauth URL encoded into enrollment QR codes.
func ProvisioningURL(secret, issuer, account string) string {
	label := url.PathEscape(issuer) + ":" + url.PathEscape(account)
	query := url.Values{}
	query.Set("secret", secret)
	query.Set("issuer", issuer)
	query.Set("algorithm", "SHA1")
	query.Set("digits", fmt.Sprintf("%d", digits))
	query.Set("period", fmt.Sprintf("%.0f", period.Seconds()))
	return "otpauth://totp/" + label + "?" + query.Encode()
}

// Code derives the code for one counter step.
func Code(secret string, when time.Time) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	return hotp(key, uint64(when.Unix()/int64(period.Seconds()))), nil
}

// Verify checks a submitted code against the current step and one step on
// either side, absorbing clock skew between the server and the
// authenticator.
func Verify(secret, code string, now time.Time) error {
	key, err := decodeSecret(secret)
	if err != nil {
		return err
	}

	code = strings.TrimSpace(code)
	if len(code) != digits {
		return apperrors.New(apperrors.CodeTotpInvalidCode, "totp code is invalid")
	}

	counter := now.Unix() / int64(period.Seconds())
	for _, offset := range []int64{0, -1, 1} {
		candidate := hotp(key, uint64(counter+offset))
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(code)) == 1 {
			return nil
		}
	}
	return apperrors.New(apperrors.CodeTotpInvalidCode, "totp code is invalid")
}

func decodeSecret(secret string) ([]byte, error) {
	key, err := base32NoPad.DecodeString(strings.ToUpper(strings.TrimSpace(secret)))
	if err != nil || len(key) == 0 {
		return nil, apperrors.New(apperrors.CodeTotpNotEnrolled, "totp secret is not usable")
	}
	return key, nil
}

// hotp computes one RFC 4226 value with dynamic truncation.
func hotp(key []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%06d", value%1000000)
}
