// Package resourceapi is the HTTP layer of a resource server that
// trusts the authorization server for every identity decision.
package resourceapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"authgate.org/internal/auth"
	"authgate.org/internal/bridge"
	"authgate.org/internal/obs"
)

// API serves resource routes behind the delegated-trust bridge.
type API struct {
	mux     *http.ServeMux
	client  *bridge.Client
	version string
}

func New(client *bridge.Client, version string) *API {
	a := &API{
		mux:     http.NewServeMux(),
		client:  client,
		version: version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.Handle("/metrics", obs.Handler())

	routes := map[string]http.Handler{
		"/api/test/get_user":               http.HandlerFunc(a.handleGetUser),
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
	for path, handler := range routes {
		a.mux.Handle(path, client.Middleware(handler))
	}

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the instrumented root handler.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.mux)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "authgate-resource",
		"version": a.version,
	})
}

// handleGetUser mirrors the authorization server's user endpoint for
// callers that only talk to the resource service.
func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user":   principal,
		"scopes": auth.ScopesFromContext(r.Context()),
	})
}

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
	return gate(next, func(r *http.Request) error {
		return auth.CheckScopes(required, auth.ScopesFromContext(r.Context()))
	})
}

func requireRoles(next http.Handler, allowed ...auth.Role) http.Handler {
	return gate(next, func(r *http.Request) error {
		principal, _ := auth.PrincipalFromContext(r.Context())
		return auth.CheckRole(principal, allowed...)
	})
}

func requireAuthenticated(next http.Handler) http.Handler {
	return gate(next, func(r *http.Request) error {
		principal, _ := auth.PrincipalFromContext(r.Context())
		return auth.CheckAuthenticated(principal)
	})
}

func requireAnonymous(next http.Handler) http.Handler {
	return gate(next, func(r *http.Request) error {
		principal, _ := auth.PrincipalFromContext(r.Context())
		return auth.CheckAnonymous(principal)
	})
}

func gate(next http.Handler, check func(*http.Request) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := check(r); err != nil {
			writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAuthError(w http.ResponseWriter, err error) {
	if ae, ok := auth.AsError(err); ok {
		w.Header().Set("WWW-Authenticate", ae.Challenge)
		writeJSON(w, ae.HTTPStatus(), map[string]any{"detail": ae.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": "Internal server error"})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"detail": "Method not allowed"})
}
