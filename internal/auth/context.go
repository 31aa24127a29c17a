package auth

import "context"

type principalContextKey struct{}
type scopesContextKey struct{}

// ContextWithPrincipal attaches the resolved principal and its granted
// scopes to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal, scopes []string) context.Context {
	ctx = context.WithValue(ctx, principalContextKey{}, &principal)
	if scopes != nil {
		ctx = context.WithValue(ctx, scopesContextKey{}, scopes)
	}
	return ctx
}

// PrincipalFromContext extracts the resolved principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// ScopesFromContext returns the granted scope set attached to the
// context, or nil when the caller is anonymous.
func ScopesFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	v, ok := ctx.Value(scopesContextKey{}).([]string)
	if !ok || len(v) == 0 {
		return nil
	}
	out := make([]string, len(v))
	copy(out, v)
	return out
}
