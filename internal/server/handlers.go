package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hoangsonww/passwordless-auth/internal/audit"
	apperrors "github.com/hoangsonww/passwordless-auth/internal/platform/errors"
	"github.com/hoangsonww/passwordless-auth/internal/session"
)

type emailBody struct {
	Email string `json:"email"`
}

type totpVerifyBody struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type ceremonyCompleteBody struct {
	PendingID string          `json:"pending_id"`
	Response  json.RawMessage `json:"response"`
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type enrollResponse struct {
	Secret     string `json:"secret"`
	OtpauthURL string `json:"otpauth_url"`
}

type ceremonyResponse struct {
	PendingID string          `json:"pending_id"`
	Options   json.RawMessage `json:"options"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) handleRequestMagic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	var body emailBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid json body")
		return
	}

	if err := s.magicLinks.RequestLink(r.Context(), body.Email); err != nil {
		s.writeAppError(w, err)
		return
	}

	s.audit.Record(r.Context(), audit.Event{Kind: audit.KindMagicLinkRequested, At: s.clock()})
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) handleVerifyMagic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}

	u, err := s.magicLinks.Verify(r.Context(), token)
	if err != nil {
		s.recordFailure(r, "magic link rejected")
		s.writeAppError(w, err)
		return
	}
	pair, err := s.sessions.Issue(r.Context(), u.ID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	s.audit.Record(r.Context(), audit.Event{Kind: audit.KindMagicLinkVerified, UserID: u.ID, At: s.clock()})
	writeTokenPair(w, pair)
}

func (s *Server) handleTOTPEnroll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	var body emailBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid json body")
		return
	}

	enrollment, err := s.totp.Enroll(r.Context(), body.Email)
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	s.audit.Record(r.Context(), audit.Event{Kind: audit.KindTotpEnrolled, At: s.clock()})
	writeJSON(w, http.StatusOK, enrollResponse{
		Secret:     enrollment.Secret,
		OtpauthURL: enrollment.ProvisioningURL,
	})
}

func (s *Server) handleTOTPVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	var body totpVerifyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid json body")
		return
	}

	u, err := s.totp.Authenticate(r.Context(), body.Email, body.Code)
	if err != nil {
		s.recordFailure(r, "totp code rejected")
		s.writeAppError(w, err)
		return
	}
	pair, err := s.sessions.Issue(r.Context(), u.ID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	s.audit.Record(r.Context(), audit.Event{Kind: audit.KindTotpVerified, UserID: u.ID, At: s.clock()})
	writeTokenPair(w, pair)
}

func (s *Server) handleRegisterOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	var body emailBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid json body")
		return
	}

	challenge, err := s.passkeys.BeginRegistration(r.Context(), body.Email)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ceremonyResponse{
		PendingID: challenge.ID,
		Options:   json.RawMessage(challenge.OptionsJSON),
	})
}

func (s *Server) handleRegisterComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	body, ok := decodeCeremonyComplete(w, r)
	if !ok {
		return
	}

	credentialID, err := s.passkeys.FinishRegistration(r.Context(), body.PendingID, body.Response)
	if err != nil {
		s.recordFailure(r, "passkey registration rejected")
		s.writeAppError(w, err)
		return
	}

	s.audit.Record(r.Context(), audit.Event{Kind: audit.KindPasskeyRegistered, Detail: credentialID, At: s.clock()})
	writeJSON(w, http.StatusOK, statusResponse{Status: "registered"})
}

func (s *Server) handleLoginOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	var body emailBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid json body")
		return
	}

	challenge, err := s.passkeys.BeginLogin(r.Context(), body.Email)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ceremonyResponse{
		PendingID: challenge.ID,
		Options:   json.RawMessage(challenge.OptionsJSON),
	})
}

func (s *Server) handleLoginComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	body, ok := decodeCeremonyComplete(w, r)
	if !ok {
		return
	}

	u, err := s.passkeys.FinishLogin(r.Context(), body.PendingID, body.Response)
	if err != nil {
		s.recordFailure(r, "passkey assertion rejected")
		s.writeAppError(w, err)
		return
	}
	pair, err := s.sessions.Issue(r.Context(), u.ID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	s.audit.Record(r.Context(), audit.Event{Kind: audit.KindPasskeyLogin, UserID: u.ID, At: s.clock()})
	writeTokenPair(w, pair)
}

func (s *Server) handleTokenRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	var body refreshBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid json body")
		return
	}
	if strings.TrimSpace(body.RefreshToken) == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	pair, err := s.sessions.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.recordFailure(r, "refresh token rejected")
		s.writeAppError(w, err)
		return
	}

	s.audit.Record(r.Context(), audit.Event{Kind: audit.KindTokenRefreshed, At: s.clock()})
	writeTokenPair(w, pair)
}

func (s *Server) handleTokenRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	var body refreshBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid json body")
		return
	}
	if strings.TrimSpace(body.RefreshToken) == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	// Revocation succeeds regardless of token state so callers cannot discover
	// which tokens exist.
	if err := s.sessions.Revoke(r.Context(), body.RefreshToken); err != nil {
		if code := apperrors.GetCode(err); !code.IsCredential() && code != apperrors.CodeNotFound {
			s.writeAppError(w, err)
			return
		}
	}

	s.audit.Record(r.Context(), audit.Event{Kind: audit.KindTokenRevoked, At: s.clock()})
	writeJSON(w, http.StatusOK, statusResponse{Status: "revoked"})
}

func decodeCeremonyComplete(w http.ResponseWriter, r *http.Request) (ceremonyCompleteBody, bool) {
	var body ceremonyCompleteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid json body")
		return ceremonyCompleteBody{}, false
	}
	if strings.TrimSpace(body.PendingID) == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "pending_id is required")
		return ceremonyCompleteBody{}, false
	}
	if len(body.Response) == 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "response is required")
		return ceremonyCompleteBody{}, false
	}
	return body, true
}

func (s *Server) recordFailure(r *http.Request, detail string) {
	s.audit.Record(r.Context(), audit.Event{Kind: audit.KindLoginFailed, Detail: detail, At: s.clock()})
}

// writeAppError maps a service error onto the wire. Every credential failure
// collapses to the same 401 body so responses cannot be used as an oracle for
// which accounts, tokens, or credentials exist.
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	status := code.HTTPStatus()
	switch {
	case code.IsCredential():
		writeJSONError(w, status, "invalid_credentials", "credentials were not accepted")
	case status == http.StatusBadRequest:
		writeJSONError(w, status, "invalid_request", err.Error())
	case status == http.StatusNotFound:
		writeJSONError(w, status, "not_found", "resource not found")
	default:
		writeJSONError(w, status, "server_error", "internal error")
	}
}

func writeTokenPair(w http.ResponseWriter, pair session.TokenPair) {
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
	})
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
