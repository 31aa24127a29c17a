package auth

import (
	"context"
	"time"
)

// Store describes the persistence operations required by the token
// lifecycle. Implementations must be safe for concurrent use; each call
// is bound to the request context so cancellation reaches the database.
type Store interface {
	Identities(ctx context.Context) IdentityStore
	Tokens(ctx context.Context) TokenStore
}

// IdentityStore manages principals.
type IdentityStore interface {
	Create(ctx context.Context, ident *Identity) error
	FindByUsername(ctx context.Context, username string) (*Identity, error)
	UpdatePassword(ctx context.Context, username, passwordHash string) error
	RecordLogin(ctx context.Context, username string, at time.Time) error
	// Delete removes the identity and all of its token records in the
	// same transaction.
	Delete(ctx context.Context, username string) error
}

// TokenStore manages the live-token records that make revocation
// meaningful despite tokens being self-contained.
type TokenStore interface {
	Insert(ctx context.Context, rec *TokenRecord) error
	Exists(ctx context.Context, id string) (bool, error)
	// Delete is a no-op when the record is already gone; a delete racing
	// a sweep must not surface an error.
	Delete(ctx context.Context, id string) error
	DeleteByUsername(ctx context.Context, username string) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
	CountByUsername(ctx context.Context, username string) (int64, error)
}
