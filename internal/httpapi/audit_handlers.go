package httpapi

import (
	"net/http"
	"time"

	"evidora.org/internal/guard"
	"evidora.org/internal/ledger"
)

type listAuditResponse struct {
	Items []ledger.Entry `json:"items"`
	AsOf  time.Time      `json:"as_of"`
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.authorize(r, actor, guard.Intent{Action: guard.ActionReadAudit}, ledger.ObjectRequest, "audit"); err != nil {
		handleDomainError(w, r, err)
		return
	}

	limit, err := parseNonNegativeInt(r.URL.Query().Get("limit"), "limit", 100, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseNonNegativeInt(r.URL.Query().Get("offset"), "offset", 0, 1<<30)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	items, err := a.audit.List(r.Context(), limit, offset)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listAuditResponse{Items: items, AsOf: time.Now().UTC()})
}
