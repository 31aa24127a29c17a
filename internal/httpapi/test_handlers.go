package httpapi

import (
	"net/http"

	"authgate.org/internal/auth"
)

// Gate demonstration routes. Each one resolves the caller through
// withPrincipal and then applies a single policy; they double as the
// reference behavior for resource servers consuming the bridge.
func (a *API) gateRoutes() map[string]http.Handler {
	return map[string]http.Handler{
		"/api/test/scope/me":               requireScopes(statusHandler(true), "me"),
		"/api/test/scope/me_items":         requireScopes(statusHandler(true), "me", "items"),
		"/api/test/only_admin":             requireRoles(statusHandler(false), auth.RoleAdmin),
		"/api/test/only_director":          requireRoles(statusHandler(false), auth.RoleDirector),
		"/api/test/only_admin_or_director": requireRoles(statusHandler(false), auth.RoleAdmin, auth.RoleDirector),
		"/api/test/only_user":              requireRoles(statusHandler(false), auth.RoleVisitor),
		"/api/test/only_authorized_user":   requireAuthenticated(statusHandler(false)),
		"/api/test/only_anonym_user":       requireAnonymous(statusHandler(false)),
		"/api/test/status":                 statusHandler(false),
	}
}

// statusHandler reports the resolved caller; withScopes echoes the
// granted scope set as well.
func statusHandler(withScopes bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		principal, _ := auth.PrincipalFromContext(r.Context())
		body := map[string]any{
			"status":   "ok",
			"username": principal.Username,
			"role":     principal.Role.String(),
		}
		if withScopes {
			body["scopes"] = auth.ScopesFromContext(r.Context())
		}
		writeJSON(w, http.StatusOK, body)
	})
}

func requireScopes(next http.Handler, required ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := auth.CheckScopes(required, auth.ScopesFromContext(r.Context())); err != nil {
			writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireRoles(next http.Handler, allowed ...auth.Role) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ := auth.PrincipalFromContext(r.Context())
		if err := auth.CheckRole(principal, allowed...); err != nil {
			writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ := auth.PrincipalFromContext(r.Context())
		if err := auth.CheckAuthenticated(principal); err != nil {
			writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireAnonymous(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ := auth.PrincipalFromContext(r.Context())
		if err := auth.CheckAnonymous(principal); err != nil {
			writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
