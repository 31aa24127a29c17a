package httpapi

import (
	"net/http"
	"strings"
	"time"

	"authgate.org/internal/audit"
	"authgate.org/internal/auth"
	"authgate.org/internal/obs"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

type userResponse struct {
	User   auth.Principal `json:"user"`
	Scopes []string       `json:"scopes"`
}

// handleToken exchanges username/password form credentials for an
// access+refresh pair. Scopes come space-delimited in the scope field.
func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, "Malformed form body")
		return
	}

	username := strings.TrimSpace(r.PostFormValue("username"))
	password := r.PostFormValue("password")
	scopes := strings.Fields(r.PostFormValue("scope"))

	pair, err := a.svc.Login(r.Context(), username, password, scopes)
	if err != nil {
		if ae, ok := auth.AsError(err); ok && ae.Reason == auth.ReasonBadCredentials {
			_ = audit.LogEvent(r.Context(), "login.failed", map[string]any{
				"username": username,
			})
		}
		writeAuthError(w, err)
		return
	}

	obs.TokenIssued("access")
	obs.TokenIssued("refresh")
	_ = audit.LogEvent(r.Context(), "token.issued", map[string]any{
		"username":   username,
		"scopes":     scopes,
		"expires_at": pair.AccessExpiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
	})
}

// handleTokenRefresh consumes a bearer refresh token and returns a new
// pair.
func (a *API) handleTokenRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	pair, err := a.svc.Refresh(r.Context(), bearerToken(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}

	obs.TokenIssued("access")
	obs.TokenIssued("refresh")
	_ = audit.LogEvent(r.Context(), "token.refreshed", map[string]any{
		"expires_at": pair.AccessExpiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
	})
}

// handleGetUser resolves the caller's identity. This is also the
// endpoint resource servers delegate to: the bearer token is optional
// and an absent credential resolves to the anonymous principal.
func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	principal, scopes, err := a.svc.Authenticate(r.Context(), bearerToken(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: principal, Scopes: scopes})
}
