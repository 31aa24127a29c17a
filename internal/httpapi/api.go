// Package httpapi is the HTTP layer of the authorization server.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"

	"authgate.org/internal/auth"
	"authgate.org/internal/obs"
)

// ReadyProbe reports whether the service can take traffic.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API wires the token service into HTTP routes.
type API struct {
	mux        *http.ServeMux
	svc        *auth.Service
	readyProbe ReadyProbe
	version    string
}

func New(svc *auth.Service, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		readyProbe: rp,
		version:    version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/oauth/token", a.handleToken)
	a.mux.HandleFunc("/oauth/token-refresh", a.handleTokenRefresh)
	a.mux.HandleFunc("/oauth/get_user", a.handleGetUser)

	for path, handler := range a.gateRoutes() {
		a.mux.Handle(path, a.withPrincipal(handler))
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
		"service": "authgate",
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

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail emits the error body shape shared by both services.
func writeDetail(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"detail": msg})
}

// writeAuthError maps a domain failure to its status, body and
// WWW-Authenticate challenge. Unknown errors become an opaque 500.
func writeAuthError(w http.ResponseWriter, err error) {
	if ae, ok := auth.AsError(err); ok {
		obs.TokenFailure(ae.Reason.String())
		w.Header().Set("WWW-Authenticate", ae.Challenge)
		writeDetail(w, ae.HTTPStatus(), ae.Message)
		return
	}
	writeDetail(w, http.StatusInternalServerError, "Internal server error")
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
}
