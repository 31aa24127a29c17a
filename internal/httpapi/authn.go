package httpapi

import (
	"net/http"
	"strings"

	"authgate.org/internal/auth"
)

const (
	authHeader   = "Authorization"
	bearerPrefix = "Bearer "
)

// bearerToken pulls the bearer credential from the request. An absent
// header or a non-bearer scheme both read as "no credential"; the
// anonymous principal takes over from there.
func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearerPrefix)) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}

// withPrincipal authenticates the request and attaches the resolved
// principal and scope set to the context. Requests without a credential
// pass through as the anonymous principal; gates decide from there.
func (a *API) withPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, scopes, err := a.svc.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			writeAuthError(w, err)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal, scopes)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
