package httpapi

import (
	"net/http"
	"strings"

	"evidora.org/internal/guard"
	"evidora.org/internal/ledger"
	"evidora.org/internal/obs"
	"evidora.org/internal/request"
)

type createRequestRequest struct {
	FactoryOrgID string            `json:"factoryOrgId"`
	Title        string            `json:"title"`
	Items        []requestItemInput `json:"items"`
}

type requestItemInput struct {
	DocType string `json:"docType"`
}

type fulfillRequest struct {
	EvidenceID string `json:"evidenceId"`
	VersionID  string `json:"versionId"`
}

type fulfillResponse struct {
	Item    request.Item    `json:"item"`
	Request request.Request `json:"request"`
}

type listRequestsResponse struct {
	Items []request.Request `json:"items"`
}

func (a *API) handleRequestsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createRequest(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleFactoryRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listFactoryRequests(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) handleRequestResource(w http.ResponseWriter, r *http.Request) {
	// Only /v1/requests/{rid}/items/{iid}/fulfill is addressable.
	path := strings.TrimPrefix(r.URL.Path, "/v1/requests/")
	parts := strings.Split(path, "/")
	if len(parts) != 4 || parts[1] != "items" || parts[3] != "fulfill" || parts[0] == "" || parts[2] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	a.fulfillItem(w, r, parts[0], parts[2])
}

func (a *API) createRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req createRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.authorize(r, actor, guard.Intent{Action: guard.ActionCreateRequest}, ledger.ObjectRequest, "new"); err != nil {
		handleDomainError(w, r, err)
		return
	}

	docTypes := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		docTypes = append(docTypes, item.DocType)
	}

	created, err := a.requests.Create(r.Context(), actor, req.FactoryOrgID, req.Title, docTypes)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	obs.IncRequestCreated()

	w.Header().Set("Location", "/v1/requests/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) listFactoryRequests(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := a.authorize(r, actor, guard.Intent{Action: guard.ActionListOwnRequests}, ledger.ObjectRequest, "list"); err != nil {
		handleDomainError(w, r, err)
		return
	}

	// The listing is always scoped to the caller's own organization.
	items, err := a.requests.ListForFactory(r.Context(), actor.OrganizationID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listRequestsResponse{Items: items})
}

func (a *API) fulfillItem(w http.ResponseWriter, r *http.Request, requestID, itemID string) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req fulfillRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	evidenceID := strings.TrimSpace(req.EvidenceID)
	versionID := strings.TrimSpace(req.VersionID)
	if evidenceID == "" || versionID == "" {
		writeError(w, r, http.StatusBadRequest, "evidenceId and versionId are required")
		return
	}

	// Role first, so a wrong-role caller learns nothing about request existence.
	if err := a.authorizeRole(r, actor, guard.ActionFulfillItem, ledger.ObjectRequestItem, itemID); err != nil {
		handleDomainError(w, r, err)
		return
	}

	target, err := a.requests.Get(r.Context(), requestID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	doc, err := a.evidence.Document(r.Context(), evidenceID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	intent := guard.Intent{
		Action:             guard.ActionFulfillItem,
		ResourceOwnerOrgID: target.FactoryOrgID,
		CitedOwnerOrgID:    doc.OwnerOrgID,
	}
	if err := a.authorize(r, actor, intent, ledger.ObjectRequestItem, itemID); err != nil {
		handleDomainError(w, r, err)
		return
	}

	item, updated, err := a.requests.Fulfill(r.Context(), actor, requestID, itemID, evidenceID, versionID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	obs.IncItemFulfilled()
	if updated.Status == request.StatusCompleted {
		obs.IncRequestCompleted()
	}

	writeJSON(w, http.StatusOK, fulfillResponse{Item: item, Request: updated})
}
