package httptransport

import (
	"encoding/json"
	"net/http"

	"github.com/plecsi/reactom/internal/platform/middleware"
	dErrors "github.com/plecsi/reactom/pkg/domain-errors"
)

type twoFactorSetupRequest struct {
	UserID string `json:"userId"`
}

type twoFactorVerifyRequest struct {
	UserID string `json:"userId"`
	Secret string `json:"secret"`
	Token  string `json:"token"`
}

// bindUserID rejects requests whose body userId does not match the
// authenticated session. The body field is kept for wire compatibility with
// the original client, but the session is the authority.
func bindUserID(r *http.Request, bodyUserID string) (string, error) {
	sessionUserID := middleware.GetUserID(r.Context())
	if sessionUserID == "" {
		return "", dErrors.New(dErrors.CodeUnauthorized, "Not authenticated")
	}
	if bodyUserID != "" && bodyUserID != sessionUserID {
		return "", dErrors.New(dErrors.CodeForbidden, "User mismatch")
	}
	return sessionUserID, nil
}

func (h *AuthHandler) handleTwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	var req twoFactorSetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, h.logger, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	userID, err := bindUserID(r, req.UserID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	setup, err := h.auth.SetupTwoFactor(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, setup)
}

func (h *AuthHandler) handleTwoFactorVerify(w http.ResponseWriter, r *http.Request) {
	var req twoFactorVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, h.logger, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	userID, err := bindUserID(r, req.UserID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.auth.VerifyTwoFactor(r.Context(), userID, req.Secret, req.Token); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
