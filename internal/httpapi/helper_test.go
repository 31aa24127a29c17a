package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"authgate.org/internal/auth"
)

// fakeStore is an in-memory auth.Store for handler tests.
type fakeStore struct {
	mu         sync.Mutex
	identities map[string]*auth.Identity
	tokens     map[string]*auth.TokenRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		identities: make(map[string]*auth.Identity),
		tokens:     make(map[string]*auth.TokenRecord),
	}
}

func (s *fakeStore) Identities(ctx context.Context) auth.IdentityStore { return (*fakeIdentities)(s) }
func (s *fakeStore) Tokens(ctx context.Context) auth.TokenStore        { return (*fakeTokens)(s) }

type fakeIdentities fakeStore

func (s *fakeIdentities) Create(ctx context.Context, ident *auth.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ident
	s.identities[ident.Username] = &cp
	return nil
}

func (s *fakeIdentities) FindByUsername(ctx context.Context, username string) (*auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.identities[username]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *ident
	return &cp, nil
}

func (s *fakeIdentities) UpdatePassword(ctx context.Context, username, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.identities[username]
	if !ok {
		return auth.ErrNotFound
	}
	ident.PasswordHash = hash
	return nil
}

func (s *fakeIdentities) RecordLogin(ctx context.Context, username string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.identities[username]
	if !ok {
		return auth.ErrNotFound
	}
	ident.LastLogin = &at
	return nil
}

func (s *fakeIdentities) Delete(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identities[username]; !ok {
		return auth.ErrNotFound
	}
	delete(s.identities, username)
	for id, rec := range s.tokens {
		if rec.Username == username {
			delete(s.tokens, id)
		}
	}
	return nil
}

type fakeTokens fakeStore

func (s *fakeTokens) Insert(ctx context.Context, rec *auth.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.tokens[rec.ID] = &cp
	return nil
}

func (s *fakeTokens) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tokens[id]
	return ok, nil
}

func (s *fakeTokens) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, id)
	return nil
}

func (s *fakeTokens) DeleteByUsername(ctx context.Context, username string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.tokens {
		if rec.Username == username {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

func (s *fakeTokens) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.tokens {
		if rec.ExpiresAt.Before(before) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

func (s *fakeTokens) CountByUsername(ctx context.Context, username string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, rec := range s.tokens {
		if rec.Username == username {
			n++
		}
	}
	return n, nil
}

const testPassword = "Password_123"

// newTestAPI builds the HTTP layer over an in-memory store seeded with
// one identity per interesting role.
func newTestAPI(t *testing.T) (*API, *auth.Service) {
	t.Helper()
	store := newFakeStore()
	svc, err := auth.NewService(store, "handler-test-secret")
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	seeds := []struct {
		username string
		role     auth.Role
	}{
		{"Admin", auth.RoleAdmin},
		{"Director", auth.RoleDirector},
		{"User", auth.RoleVisitor},
	}
	for _, seed := range seeds {
		ident, err := auth.NewIdentity(auth.IdentityConfig{
			Username: seed.username,
			Email:    strings.ToLower(seed.username) + "@example.com",
			Password: testPassword,
			Role:     seed.role,
		})
		if err != nil {
			t.Fatalf("NewIdentity(%s) failed: %v", seed.username, err)
		}
		if err := store.Identities(context.Background()).Create(context.Background(), ident); err != nil {
			t.Fatalf("Create(%s) failed: %v", seed.username, err)
		}
	}

	return New(svc, ReadyProbe{}, "test"), svc
}

// login posts the credential form and returns the issued pair.
func login(t *testing.T, api *API, username string, scopes ...string) tokenResponse {
	t.Helper()
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", testPassword)
	form.Set("scope", strings.Join(scopes, " "))

	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d: %s", username, rr.Code, rr.Body.String())
	}
	return decodeTokenResponse(t, rr)
}
