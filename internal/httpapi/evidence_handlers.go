package httpapi

import (
	"net/http"
	"strings"

	"evidora.org/internal/evidence"
	"evidora.org/internal/guard"
	"evidora.org/internal/ledger"
)

type createEvidenceRequest struct {
	Name    string `json:"name"`
	DocType string `json:"docType"`
	Expiry  string `json:"expiry"`
	Notes   string `json:"notes"`
}

type addVersionRequest struct {
	Expiry string `json:"expiry"`
	Notes  string `json:"notes"`
}

type evidenceResponse struct {
	Document evidence.Document `json:"document"`
	Version  evidence.Version  `json:"version"`
}

func (a *API) handleEvidenceCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createEvidence(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleEvidenceResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/evidence/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/versions") {
		id := strings.TrimSuffix(path, "/versions")
		id = strings.TrimSuffix(id, "/")
		if id == "" || strings.Contains(id, "/") {
			writeError(w, r, http.StatusNotFound, "evidence not found")
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.addVersion(w, r, id)
		return
	}

	writeError(w, r, http.StatusNotFound, "resource not found")
}

func (a *API) createEvidence(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req createEvidenceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.authorize(r, actor, guard.Intent{Action: guard.ActionCreateEvidence}, ledger.ObjectEvidence, "new"); err != nil {
		handleDomainError(w, r, err)
		return
	}

	doc, ver, err := a.evidence.CreateDocument(r.Context(), actor, req.Name, req.DocType, req.Expiry, req.Notes)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/evidence/"+doc.ID)
	writeJSON(w, http.StatusCreated, evidenceResponse{Document: doc, Version: ver})
}

func (a *API) addVersion(w http.ResponseWriter, r *http.Request, documentID string) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req addVersionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// Role first, so a wrong-role caller learns nothing about document existence.
	if err := a.authorizeRole(r, actor, guard.ActionAddVersion, ledger.ObjectEvidence, documentID); err != nil {
		handleDomainError(w, r, err)
		return
	}

	doc, err := a.evidence.Document(r.Context(), documentID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	intent := guard.Intent{
		Action:             guard.ActionAddVersion,
		ResourceOwnerOrgID: doc.OwnerOrgID,
	}
	if err := a.authorize(r, actor, intent, ledger.ObjectEvidence, doc.ID); err != nil {
		handleDomainError(w, r, err)
		return
	}

	ver, err := a.evidence.AddVersion(r.Context(), actor, documentID, req.Notes, req.Expiry)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, ver)
}
