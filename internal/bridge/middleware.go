package bridge

import (
	"encoding/json"
	"net/http"

	"authgate.org/internal/auth"
)

// Middleware resolves every request's identity through the
// authorization server and attaches it to the context. Failures are
// answered here; handlers behind the middleware always see a principal.
func (c *Client) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, scopes, err := c.ResolveIdentity(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			writeFailure(w, err)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal, scopes)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeFailure(w http.ResponseWriter, err error) {
	if ae, ok := auth.AsError(err); ok {
		w.Header().Set("WWW-Authenticate", ae.Challenge)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(ae.HTTPStatus())
		_ = json.NewEncoder(w).Encode(map[string]any{"detail": ae.Message})
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]any{"detail": "Internal server error"})
}
