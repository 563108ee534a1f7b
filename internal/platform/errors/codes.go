// Package errors provides structured error handling for the auth domain.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Input errors
	CodeInvalidEmail   Code = "INVALID_EMAIL"
	CodeInvalidRequest Code = "INVALID_REQUEST"

	// Credential errors. All of these surface as a generic authentication
	// failure at the HTTP boundary; the distinct codes exist for audit
	// logging only.
	CodeTokenNotFound       Code = "TOKEN_NOT_FOUND"
	CodeTokenExpired        Code = "TOKEN_EXPIRED"
	CodeTokenUsed           Code = "TOKEN_USED"
	CodeTokenRevoked        Code = "TOKEN_REVOKED"
	CodeSignatureInvalid    Code = "SIGNATURE_INVALID"
	CodeWrongTokenKind      Code = "WRONG_TOKEN_KIND"
	CodeTotpNotEnrolled     Code = "TOTP_NOT_ENROLLED"
	CodeTotpInvalidCode     Code = "TOTP_INVALID_CODE"
	CodeChallengeNotFound   Code = "CHALLENGE_NOT_FOUND"
	CodeChallengeExpired    Code = "CHALLENGE_EXPIRED"
	CodeChallengeMismatch   Code = "CHALLENGE_MISMATCH"
	CodeSignCountRegression Code = "SIGN_COUNT_REGRESSION"
	CodeCredentialNotFound  Code = "CREDENTIAL_NOT_FOUND"
	CodeAssertionInvalid    Code = "ASSERTION_INVALID"

	// Storage errors
	CodeNotFound           Code = "NOT_FOUND"
	CodeIntegrityViolation Code = "INTEGRITY_VIOLATION"
)

// credentialCodes are never distinguished on the wire.
var credentialCodes = map[Code]bool{
	CodeTokenNotFound:       true,
	CodeTokenExpired:        true,
	CodeTokenUsed:           true,
	CodeTokenRevoked:        true,
	CodeSignatureInvalid:    true,
	CodeWrongTokenKind:      true,
	CodeTotpNotEnrolled:     true,
	CodeTotpInvalidCode:     true,
	CodeChallengeNotFound:   true,
	CodeChallengeExpired:    true,
	CodeChallengeMismatch:   true,
	CodeSignCountRegression: true,
	CodeCredentialNotFound:  true,
	CodeAssertionInvalid:    true,
}

// IsCredential reports whether the code describes a credential failure that
// must not be distinguished at the network boundary.
func (c Code) IsCredential() bool {
	return credentialCodes[c]
}

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch {
	case c == CodeInvalidEmail, c == CodeInvalidRequest:
		return http.StatusBadRequest
	case c.IsCredential():
		return http.StatusUnauthorized
	case c == CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
