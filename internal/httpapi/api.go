package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"evidora.org/internal/evidence"
	"evidora.org/internal/guard"
	"evidora.org/internal/identity"
	"evidora.org/internal/ledger"
	"evidora.org/internal/obs"
	"evidora.org/internal/request"
)

// ReadyProbe pings the backing database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the workflow services.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	identity *identity.Service
	evidence evidence.Service
	requests request.Service
	audit    ledger.Ledger

	rateBurst  int
	ratePerSec int
}

// Option configures API.
type Option func(*API)

// WithRateLimit overrides the default per-client rate limit.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 {
			a.rateBurst = burst
		}
		if perSecond > 0 {
			a.ratePerSec = perSecond
		}
	}
}

// New wires the routes. All business routes live under /v1.
func New(rp ReadyProbe, version string, ident *identity.Service, ev evidence.Service, reqs request.Service, audit ledger.Ledger, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		identity:   ident,
		evidence:   ev,
		requests:   reqs,
		audit:      audit,
		rateBurst:  50,
		ratePerSec: 25,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/evidence", a.handleEvidenceCollection)
	a.mux.HandleFunc("/v1/evidence/", a.handleEvidenceResource)
	a.mux.HandleFunc("/v1/requests", a.handleRequestsCollection)
	a.mux.HandleFunc("/v1/requests/", a.handleRequestResource)
	a.mux.HandleFunc("/v1/factory/requests", a.handleFactoryRequests)
	a.mux.HandleFunc("/v1/audit", a.handleAudit)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "evidora-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "evidora-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func parseNonNegativeInt(raw, name string, def, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	if val < 0 || val > max {
		return 0, errors.New(name + " must be between 0 and " + strconv.Itoa(max))
	}
	return val, nil
}

// authorize runs the access guard and, on denial, records the attempt in
// the audit ledger before the caller turns it into a 403.
func (a *API) authorize(r *http.Request, actor identity.Identity, intent guard.Intent, objectType, objectID string) error {
	err := guard.Authorize(actor, intent)
	if err == nil {
		return nil
	}
	a.recordDenial(r, actor, intent.Action, intent.ResourceOwnerOrgID, objectType, objectID)
	return err
}

// authorizeRole is the role-only precheck handlers run before touching
// the target resource, so wrong-role callers get Forbidden rather than
// an existence oracle.
func (a *API) authorizeRole(r *http.Request, actor identity.Identity, action guard.Action, objectType, objectID string) error {
	err := guard.AuthorizeRole(actor, action)
	if err == nil {
		return nil
	}
	a.recordDenial(r, actor, action, "", objectType, objectID)
	return err
}

func (a *API) recordDenial(r *http.Request, actor identity.Identity, action guard.Action, resourceOwnerOrgID, objectType, objectID string) {
	obs.IncAccessDenied()
	meta := map[string]string{
		"attemptedAction": string(action),
	}
	if actor.OrganizationID != "" {
		meta["actorOrgId"] = actor.OrganizationID
	}
	if resourceOwnerOrgID != "" {
		meta["resourceOwnerOrgId"] = resourceOwnerOrgID
	}
	if _, auditErr := a.audit.Append(r.Context(), ledger.Entry{
		ActorUserID: actor.UserID,
		ActorRole:   string(actor.Role),
		Action:      ledger.ActionAccessDenied,
		ObjectType:  objectType,
		ObjectID:    objectID,
		Metadata:    meta,
	}); auditErr != nil {
		obs.LogRequest(map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": "error",
			"msg":   "audit_access_denied_failed",
			"error": auditErr.Error(),
		})
	}
}

// handleDomainError maps service sentinels onto HTTP status codes.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, evidence.ErrInvalidInput),
		errors.Is(err, request.ErrInvalidInput),
		errors.Is(err, identity.ErrInvalidInput),
		errors.Is(err, ledger.ErrInvalidEntry):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrInvalidCredential),
		errors.Is(err, identity.ErrExpiredCredential):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, guard.ErrForbidden),
		errors.Is(err, evidence.ErrNotOwner),
		errors.Is(err, request.ErrNotOwner):
		writeError(w, r, http.StatusForbidden, "access denied")
	case errors.Is(err, evidence.ErrNotFound),
		errors.Is(err, request.ErrNotFound),
		errors.Is(err, request.ErrItemNotFound),
		errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, request.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
