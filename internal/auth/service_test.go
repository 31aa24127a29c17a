package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory Store for service-level tests.
type memStore struct {
	mu         sync.Mutex
	identities map[string]*Identity
	tokens     map[string]*TokenRecord
}

func newMemStore() *memStore {
	return &memStore{
		identities: make(map[string]*Identity),
		tokens:     make(map[string]*TokenRecord),
	}
}

func (m *memStore) Identities(ctx context.Context) IdentityStore { return (*memIdentities)(m) }
func (m *memStore) Tokens(ctx context.Context) TokenStore        { return (*memTokens)(m) }

type memIdentities memStore

func (m *memIdentities) Create(ctx context.Context, ident *Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[ident.Username]; ok {
		return errors.New("duplicate username")
	}
	cp := *ident
	m.identities[ident.Username] = &cp
	return nil
}

func (m *memIdentities) FindByUsername(ctx context.Context, username string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ident
	return &cp, nil
}

func (m *memIdentities) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[username]
	if !ok {
		return ErrNotFound
	}
	ident.PasswordHash = passwordHash
	return nil
}

func (m *memIdentities) RecordLogin(ctx context.Context, username string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[username]
	if !ok {
		return ErrNotFound
	}
	ident.LastLogin = &at
	return nil
}

func (m *memIdentities) Delete(ctx context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[username]; !ok {
		return ErrNotFound
	}
	delete(m.identities, username)
	for id, rec := range m.tokens {
		if rec.Username == username {
			delete(m.tokens, id)
		}
	}
	return nil
}

type memTokens memStore

func (m *memTokens) Insert(ctx context.Context, rec *TokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[rec.ID]; ok {
		return errors.New("duplicate token id")
	}
	cp := *rec
	m.tokens[rec.ID] = &cp
	return nil
}

func (m *memTokens) Exists(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tokens[id]
	return ok, nil
}

func (m *memTokens) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, id)
	return nil
}

func (m *memTokens) DeleteByUsername(ctx context.Context, username string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for id, rec := range m.tokens {
		if rec.Username == username {
			delete(m.tokens, id)
			removed++
		}
	}
	return removed, nil
}

func (m *memTokens) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for id, rec := range m.tokens {
		if rec.ExpiresAt.Before(before) {
			delete(m.tokens, id)
			removed++
		}
	}
	return removed, nil
}

func (m *memTokens) CountByUsername(ctx context.Context, username string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, rec := range m.tokens {
		if rec.Username == username {
			count++
		}
	}
	return count, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*Service, *memStore, *testClock) {
	t.Helper()
	store := newMemStore()
	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc, err := NewService(store, "test-secret", WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store, clock
}

func seedIdentity(t *testing.T, store *memStore, username string, role Role, status Status) *Identity {
	t.Helper()
	ident, err := NewIdentity(IdentityConfig{
		Username: username,
		Email:    username + "@mail.com",
		Password: "Password_123",
		Role:     role,
	})
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	ident.Status = status
	if err := store.Identities(context.Background()).Create(context.Background(), ident); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return ident
}

func TestIssueThenValidateResolvesSubject(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	ident := seedIdentity(t, store, "User", RoleVisitor, StatusActive)

	issued, err := svc.Issue(ctx, AccessToken, ident, []string{"me"}, time.Time{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.ID == "" || issued.Token == "" {
		t.Fatalf("incomplete issued token: %+v", issued)
	}

	claims, err := svc.Validate(ctx, issued.Token, AccessToken)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "User" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}

	principal, scopes, err := svc.Resolve(ctx, claims)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if principal.Username != "User" || principal.Anonymous {
		t.Fatalf("unexpected principal: %+v", principal)
	}
	if len(scopes) != 1 || scopes[0] != "me" {
		t.Fatalf("unexpected scopes: %v", scopes)
	}
}

func TestLoginIssuesPairAndRecordsLogin(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	seedIdentity(t, store, "User", RoleVisitor, StatusActive)

	pair, err := svc.Login(ctx, "User", "Password_123", []string{"me", "items", "me"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("incomplete pair: %+v", pair)
	}
	if !pair.RefreshExpiresAt.After(pair.AccessExpiresAt) {
		t.Fatalf("refresh should outlive access: %+v", pair)
	}

	count, err := store.Tokens(ctx).CountByUsername(ctx, "User")
	if err != nil || count != 2 {
		t.Fatalf("expected 2 registered tokens, got %d (%v)", count, err)
	}

	ident, _ := store.Identities(ctx).FindByUsername(ctx, "User")
	if ident.LastLogin == nil {
		t.Fatal("expected last login to be recorded")
	}

	claims, err := svc.Validate(ctx, pair.AccessToken, AccessToken)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(claims.Scopes) != 2 {
		t.Fatalf("expected deduplicated scopes, got %v", claims.Scopes)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	seedIdentity(t, store, "User", RoleVisitor, StatusActive)

	for name, attempt := range map[string][2]string{
		"wrong password": {"User", "nope"},
		"unknown user":   {"Ghost", "Password_123"},
		"empty password": {"User", ""},
	} {
		_, err := svc.Login(ctx, attempt[0], attempt[1], nil)
		ae, ok := AsError(err)
		if !ok || ae.Reason != ReasonBadCredentials {
			t.Fatalf("%s: expected BadCredentials, got %v", name, err)
		}
	}
}

func TestLoginRejectsNonActiveIdentity(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	seedIdentity(t, store, "Blocked", RoleVisitor, StatusBlocked)
	seedIdentity(t, store, "Deleted", RoleVisitor, StatusDeleted)

	for _, username := range []string{"Blocked", "Deleted"} {
		_, err := svc.Login(ctx, username, "Password_123", nil)
		ae, ok := AsError(err)
		if !ok || ae.Reason != ReasonBadCredentials {
			t.Fatalf("%s: expected BadCredentials, got %v", username, err)
		}
	}
}

func TestValidateExpiredTokenCleansUpRecord(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()
	ident := seedIdentity(t, store, "User", RoleVisitor, StatusActive)

	issued, err := svc.Issue(ctx, AccessToken, ident, nil, time.Time{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clock.Advance(10 * time.Minute)
	_, err = svc.Validate(ctx, issued.Token, AccessToken)
	ae, ok := AsError(err)
	if !ok || ae.Reason != ReasonExpired {
		t.Fatalf("expected Expired, got %v", err)
	}

	live, err := store.Tokens(ctx).Exists(ctx, issued.ID)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if live {
		t.Fatal("expected the expired record to be deleted during validation")
	}
}

func TestValidateRejectsWrongTokenType(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	ident := seedIdentity(t, store, "User", RoleVisitor, StatusActive)

	refresh, err := svc.Issue(ctx, RefreshToken, ident, nil, time.Time{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	_, err = svc.Validate(ctx, refresh.Token, AccessToken)
	ae, ok := AsError(err)
	if !ok || ae.Reason != ReasonDamaged {
		t.Fatalf("expected Damaged for type mismatch, got %v", err)
	}
}

func TestValidateRejectsRevokedToken(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	ident := seedIdentity(t, store, "User", RoleVisitor, StatusActive)

	issued, err := svc.Issue(ctx, AccessToken, ident, nil, time.Time{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.RevokeAll(ctx, "User"); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}

	_, err = svc.Validate(ctx, issued.Token, AccessToken)
	ae, ok := AsError(err)
	if !ok || ae.Reason != ReasonUnauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
	if ae.Message != "Could not validate credentials" {
		t.Fatalf("unexpected message: %s", ae.Message)
	}
}

func TestValidateEmptyTokenMeansNoCredential(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	claims, err := svc.Validate(ctx, "", AccessToken)
	if err != nil || claims != nil {
		t.Fatalf("expected nil/nil, got %v / %v", claims, err)
	}

	principal, scopes, err := svc.Resolve(ctx, claims)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !principal.Anonymous || principal.Username != AnonymousUsername {
		t.Fatalf("expected anonymous principal, got %+v", principal)
	}
	if principal.Role != RoleGuest || principal.Status != StatusActive {
		t.Fatalf("unexpected anonymous principal attributes: %+v", principal)
	}
	if scopes != nil {
		t.Fatalf("expected nil scopes, got %v", scopes)
	}
}

func TestResolveRejectsInactiveIdentity(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	ident := seedIdentity(t, store, "User", RoleVisitor, StatusActive)

	issued, err := svc.Issue(ctx, AccessToken, ident, nil, time.Time{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := svc.Validate(ctx, issued.Token, AccessToken)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	// Block the identity after issuance; the live token no longer
	// resolves.
	store.mu.Lock()
	store.identities["User"].Status = StatusBlocked
	store.mu.Unlock()

	_, _, err = svc.Resolve(ctx, claims)
	ae, ok := AsError(err)
	if !ok || ae.Reason != ReasonUnauthenticated || ae.Message != "Inactive user" {
		t.Fatalf("expected Unauthenticated(Inactive user), got %v", err)
	}
}

func TestRefreshRotatesPairAndConsumesRecord(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	seedIdentity(t, store, "User", RoleVisitor, StatusActive)

	pair, err := svc.Login(ctx, "User", "Password_123", []string{"me"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	oldRefreshClaims, err := svc.Validate(ctx, pair.RefreshToken, RefreshToken)
	if err != nil {
		t.Fatalf("Validate refresh: %v", err)
	}

	next, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.AccessToken == pair.AccessToken || next.RefreshToken == pair.RefreshToken {
		t.Fatal("expected a fresh token pair")
	}

	// The consumed refresh token's record is gone.
	live, err := store.Tokens(ctx).Exists(ctx, oldRefreshClaims.ID)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if live {
		t.Fatal("expected consumed refresh record to be deleted")
	}
	if _, err := svc.Validate(ctx, pair.RefreshToken, RefreshToken); err == nil {
		t.Fatal("expected consumed refresh token to be rejected")
	}

	// The access token paired with it deliberately stays live until
	// expiry or sweep.
	if _, err := svc.Validate(ctx, pair.AccessToken, AccessToken); err != nil {
		t.Fatalf("old access token should remain valid: %v", err)
	}

	// New scopes carried over.
	claims, err := svc.Validate(ctx, next.AccessToken, AccessToken)
	if err != nil {
		t.Fatalf("Validate new access: %v", err)
	}
	if len(claims.Scopes) != 1 || claims.Scopes[0] != "me" {
		t.Fatalf("scopes not carried over: %v", claims.Scopes)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	seedIdentity(t, store, "User", RoleVisitor, StatusActive)

	pair, err := svc.Login(ctx, "User", "Password_123", nil)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	_, err = svc.Refresh(ctx, pair.AccessToken)
	ae, ok := AsError(err)
	if !ok || ae.Reason != ReasonDamaged {
		t.Fatalf("expected Damaged, got %v", err)
	}
}

func TestSweepRemovesOnlyExpiredRecords(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()
	ident := seedIdentity(t, store, "User", RoleVisitor, StatusActive)

	access, err := svc.Issue(ctx, AccessToken, ident, nil, time.Time{})
	if err != nil {
		t.Fatalf("Issue access: %v", err)
	}
	refresh, err := svc.Issue(ctx, RefreshToken, ident, nil, time.Time{})
	if err != nil {
		t.Fatalf("Issue refresh: %v", err)
	}

	// Past the access TTL but inside the refresh TTL.
	clock.Advance(10 * time.Minute)
	removed, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if live, _ := store.Tokens(ctx).Exists(ctx, access.ID); live {
		t.Fatal("expected expired access record to be swept")
	}
	if live, _ := store.Tokens(ctx).Exists(ctx, refresh.ID); !live {
		t.Fatal("expected live refresh record to survive the sweep")
	}

	// Idempotent.
	removed, err = svc.Sweep(ctx)
	if err != nil || removed != 0 {
		t.Fatalf("expected idempotent sweep, got %d (%v)", removed, err)
	}
}

func TestIssuePostdatedToken(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()
	ident := seedIdentity(t, store, "User", RoleVisitor, StatusActive)

	start := clock.Now()
	nbf := start.Add(time.Hour)
	issued, err := svc.Issue(ctx, AccessToken, ident, nil, nbf)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if want := nbf.Add(defaultAccessTTL); !issued.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, issued.ExpiresAt)
	}

	// Not yet valid.
	if _, err := svc.Validate(ctx, issued.Token, AccessToken); err == nil {
		t.Fatal("expected postdated token to be rejected before nbf")
	}

	clock.Advance(61 * time.Minute)
	if _, err := svc.Validate(ctx, issued.Token, AccessToken); err != nil {
		t.Fatalf("postdated token should validate after nbf: %v", err)
	}
}

func TestChangePasswordRevokesAllSessions(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	seedIdentity(t, store, "User", RoleVisitor, StatusActive)

	pair, err := svc.Login(ctx, "User", "Password_123", nil)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := svc.ChangePassword(ctx, "User", "New_Password_456"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	if _, err := svc.Validate(ctx, pair.AccessToken, AccessToken); err == nil {
		t.Fatal("expected old access token to be revoked")
	}
	if _, err := svc.Login(ctx, "User", "Password_123", nil); err == nil {
		t.Fatal("expected old password to be rejected")
	}
	if _, err := svc.Login(ctx, "User", "New_Password_456", nil); err != nil {
		t.Fatalf("expected new password to work: %v", err)
	}
}

func TestBootstrapCreatesMissingIdentities(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	seedIdentity(t, store, "Admin", RoleAdmin, StatusActive)

	seeds := []Seed{
		{Username: "Admin", Email: "admin@mail.com", Password: "other", Role: "admin"},
		{Username: "Director", Email: "boss@mail.com", Password: "Password_123", Role: "director", FirstName: "Boss"},
		{Username: "User", Email: "user@mail.com", Password: "Password_123"},
	}
	if err := svc.Bootstrap(ctx, seeds); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	// Existing identity untouched.
	admin, _ := store.Identities(ctx).FindByUsername(ctx, "Admin")
	if !admin.CheckPassword("Password_123") {
		t.Fatal("existing identity should not be overwritten")
	}

	director, err := store.Identities(ctx).FindByUsername(ctx, "Director")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if director.Role != RoleDirector || director.FirstName != "Boss" {
		t.Fatalf("unexpected director: %+v", director)
	}

	user, err := store.Identities(ctx).FindByUsername(ctx, "User")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if user.Role != RoleVisitor {
		t.Fatalf("expected default visitor role, got %v", user.Role)
	}
}

func TestDeleteIdentityCascadesTokenRecords(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	seedIdentity(t, store, "User", RoleVisitor, StatusActive)

	if _, err := svc.Login(ctx, "User", "Password_123", nil); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := store.Identities(ctx).Delete(ctx, "User"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	count, err := store.Tokens(ctx).CountByUsername(ctx, "User")
	if err != nil || count != 0 {
		t.Fatalf("expected cascade delete of token records, got %d (%v)", count, err)
	}
}
