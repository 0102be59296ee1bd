package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"evidora.org/internal/identity"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/login",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		actor, err := a.identity.Resolve(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, identity.ErrExpiredCredential):
				writeError(w, r, http.StatusUnauthorized, "credential expired")
			case errors.Is(err, identity.ErrInvalidCredential):
				writeError(w, r, http.StatusUnauthorized, "invalid credential")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := identity.ContextWithIdentity(r.Context(), actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// actorFromRequest returns the authenticated identity placed by withAuth.
func actorFromRequest(r *http.Request) (identity.Identity, bool) {
	return identity.FromContext(r.Context())
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
