package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer     = "authgate"
	defaultAccessTTL  = 5 * time.Minute
	defaultRefreshTTL = 30 * time.Minute
)

// Service drives the token lifecycle: issuance, validation, refresh,
// revocation and the expiry sweep. One instance is shared by all
// request handlers; the store provides per-call transactional scope.
type Service struct {
	store Store
	codec *Codec
	now   func() time.Time

	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs Service with the shared signing secret.
func NewService(store Store, secret string, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &Service{
		store:      store,
		now:        time.Now,
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	codec, err := NewCodec(secret, func() time.Time { return svc.now() })
	if err != nil {
		return nil, err
	}
	svc.codec = codec
	return svc, nil
}

// TokenPair is the result of a login or refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// IssuedToken carries the bookkeeping identity of a freshly minted
// token alongside the signed string.
type IssuedToken struct {
	ID        string
	ExpiresAt time.Time
	Token     string
}

// Login authenticates username/password and mints an access+refresh
// pair carrying the requested scopes. Wrong credentials and non-active
// identities both fail with BadCredentials; a non-active identity never
// authenticates no matter what it presents.
func (s *Service) Login(ctx context.Context, username, password string, scopes []string) (TokenPair, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return TokenPair{}, BadCredentials()
	}
	ident, err := s.store.Identities(ctx).FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, BadCredentials()
		}
		return TokenPair{}, err
	}
	if ident.Status != StatusActive || !ident.CheckPassword(password) {
		return TokenPair{}, BadCredentials()
	}
	pair, err := s.mintPair(ctx, ident, normalizeScopes(scopes))
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.Identities(ctx).RecordLogin(ctx, ident.Username, s.now().UTC()); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

func (s *Service) mintPair(ctx context.Context, ident *Identity, scopes []string) (TokenPair, error) {
	access, err := s.Issue(ctx, AccessToken, ident, scopes, time.Time{})
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.Issue(ctx, RefreshToken, ident, scopes, time.Time{})
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

// Issue mints a single token of the given type bound to ident and the
// scope set. A notBefore later than now postdates the token: its expiry
// is computed from notBefore, not from now. The token is registered in
// the store before it is returned; if registration fails the token is
// never handed out.
func (s *Service) Issue(ctx context.Context, typ TokenType, ident *Identity, scopes []string, notBefore time.Time) (IssuedToken, error) {
	ttl := s.accessTTL
	if typ == RefreshToken {
		ttl = s.refreshTTL
	}
	now := s.now().UTC()
	nbf := now
	if notBefore.After(now) {
		nbf = notBefore.UTC()
	}
	expiry := nbf.Add(ttl)
	id := uuid.NewString()

	claims := &Claims{
		Scopes:    scopes,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   ident.Username,
			ID:        id,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(nbf),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}
	signed, err := s.codec.Sign(claims)
	if err != nil {
		return IssuedToken{}, err
	}
	rec := &TokenRecord{ID: id, Username: ident.Username, ExpiresAt: expiry}
	if err := s.store.Tokens(ctx).Insert(ctx, rec); err != nil {
		return IssuedToken{}, fmt.Errorf("register token: %w", err)
	}
	return IssuedToken{ID: id, ExpiresAt: expiry, Token: signed}, nil
}

// Validate decodes token and checks it against expected. An empty token
// means no credential was presented: both return values are nil and the
// caller maps that to the anonymous principal. A live token requires a
// valid signature, matching type, a present subject and a surviving
// record in the token store. The expired path deletes the stale record
// before rejecting; it is the only write performed during validation.
func (s *Service) Validate(ctx context.Context, token string, expected TokenType) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	claims, err := s.codec.Decode(token)
	if err != nil {
		if ae, ok := AsError(err); ok && ae.Reason == ReasonExpired {
			if ref, derr := s.codec.DecodeUnverified(token); derr == nil && ref.ID != "" {
				// Best-effort cleanup; the rejection stands either way.
				_ = s.store.Tokens(ctx).Delete(ctx, ref.ID)
			}
			return nil, Expired()
		}
		return nil, Damaged()
	}
	if claims.TokenType != expected {
		return nil, Damaged()
	}
	live, err := s.store.Tokens(ctx).Exists(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if !live {
		return nil, Unauthenticated("Could not validate credentials")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, Unauthenticated("Could not validate credentials")
	}
	return claims, nil
}

// Resolve turns validated claims into a principal and its granted
// scopes. Nil claims resolve to the anonymous principal with no scopes.
func (s *Service) Resolve(ctx context.Context, claims *Claims) (Principal, []string, error) {
	if claims == nil {
		return AnonymousPrincipal(), nil, nil
	}
	ident, err := s.store.Identities(ctx).FindByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, nil, Unauthenticated("Could not validate credentials")
		}
		return Principal{}, nil, err
	}
	if ident.Status != StatusActive {
		return Principal{}, nil, Unauthenticated("Inactive user")
	}
	return ident.Principal(), claims.Scopes, nil
}

// Authenticate is the read-path composition used on every request:
// validate the access token, then resolve it to a principal.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, []string, error) {
	claims, err := s.Validate(ctx, token, AccessToken)
	if err != nil {
		return Principal{}, nil, err
	}
	return s.Resolve(ctx, claims)
}

// Refresh consumes a refresh token and mints a new access+refresh pair.
// The consumed token's record is deleted; the access token issued
// alongside it stays live until its own expiry or a sweep.
func (s *Service) Refresh(ctx context.Context, token string) (TokenPair, error) {
	claims, err := s.Validate(ctx, token, RefreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	if claims == nil {
		return TokenPair{}, Unauthenticated("Could not validate credentials")
	}
	principal, scopes, err := s.Resolve(ctx, claims)
	if err != nil {
		return TokenPair{}, err
	}
	ident, err := s.store.Identities(ctx).FindByUsername(ctx, principal.Username)
	if err != nil {
		return TokenPair{}, err
	}
	pair, err := s.mintPair(ctx, ident, scopes)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.Tokens(ctx).Delete(ctx, claims.ID); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// RevokeAll deletes every token record owned by username, killing all
// of its outstanding sessions at once.
func (s *Service) RevokeAll(ctx context.Context, username string) (int64, error) {
	return s.store.Tokens(ctx).DeleteByUsername(ctx, username)
}

// ChangePassword replaces the stored hash and revokes every outstanding
// token for the identity.
func (s *Service) ChangePassword(ctx context.Context, username, newPassword string) error {
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.Identities(ctx).UpdatePassword(ctx, username, hash); err != nil {
		return err
	}
	_, err = s.RevokeAll(ctx, username)
	return err
}

// Sweep deletes token records whose expiry has passed and reports how
// many were removed. Idempotent and safe to run concurrently with
// request handling.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	return s.store.Tokens(ctx).DeleteExpired(ctx, s.now().UTC())
}

// RunSweeper runs Sweep every interval until ctx is cancelled. Each
// pass reports its result through report, which may be nil.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration, report func(removed int64, err error)) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Sweep(ctx)
			if report != nil {
				report(removed, err)
			}
		}
	}
}

// Seed describes an identity created at startup when missing.
type Seed struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

// Bootstrap ensures the seed identities exist. Existing usernames are
// left untouched.
func (s *Service) Bootstrap(ctx context.Context, seeds []Seed) error {
	identities := s.store.Identities(ctx)
	for _, seed := range seeds {
		if _, err := identities.FindByUsername(ctx, seed.Username); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		role := RoleVisitor
		if seed.Role != "" {
			parsed, err := ParseRole(seed.Role)
			if err != nil {
				return fmt.Errorf("bootstrap %s: %w", seed.Username, err)
			}
			role = parsed
		}
		ident, err := NewIdentity(IdentityConfig{
			Username:  seed.Username,
			Email:     seed.Email,
			Password:  seed.Password,
			FirstName: seed.FirstName,
			LastName:  seed.LastName,
			Role:      role,
		})
		if err != nil {
			return fmt.Errorf("bootstrap %s: %w", seed.Username, err)
		}
		if err := identities.Create(ctx, ident); err != nil {
			return fmt.Errorf("bootstrap %s: %w", seed.Username, err)
		}
	}
	return nil
}

func normalizeScopes(scopes []string) []string {
	if len(scopes) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(scopes))
	var out []string
	for _, scope := range scopes {
		scope = strings.TrimSpace(scope)
		if scope == "" {
			continue
		}
		if _, ok := seen[scope]; ok {
			continue
		}
		seen[scope] = struct{}{}
		out = append(out, scope)
	}
	return out
}
