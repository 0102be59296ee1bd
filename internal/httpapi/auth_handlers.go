package httpapi

import (
	"net/http"
	"strings"
	"time"

	"evidora.org/internal/ledger"
	"evidora.org/internal/obs"
)

type loginRequest struct {
	UserID         string `json:"userId"`
	Role           string `json:"role"`
	OrganizationID string `json:"organizationId"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
	OrgID     string    `json:"organizationId"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	cred, actor, err := a.identity.Authenticate(r.Context(), strings.TrimSpace(req.UserID), strings.TrimSpace(req.Role), strings.TrimSpace(req.OrganizationID))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	if _, err := a.audit.Append(r.Context(), ledger.Entry{
		ActorUserID: actor.UserID,
		ActorRole:   string(actor.Role),
		Action:      ledger.ActionLogin,
		ObjectType:  ledger.ObjectSession,
		ObjectID:    cred.SessionID,
		Metadata: map[string]string{
			"role":           string(actor.Role),
			"organizationId": actor.OrganizationID,
		},
	}); err != nil {
		// A session without its LOGIN entry must not survive.
		if revokeErr := a.identity.Revoke(r.Context(), cred.SessionID); revokeErr != nil {
			obs.LogRequest(map[string]any{
				"ts":    time.Now().UTC().Format(time.RFC3339Nano),
				"level": "error",
				"msg":   "session_rollback_failed",
				"error": revokeErr.Error(),
			})
		}
		writeError(w, r, http.StatusInternalServerError, "audit write failed")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     cred.Token,
		ExpiresAt: cred.ExpiresAt,
		UserID:    actor.UserID,
		Role:      string(actor.Role),
		OrgID:     actor.OrganizationID,
	})
}
