package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType distinguishes access from refresh tokens. A validator
// expecting one type rejects the other as damaged.
type TokenType string

const (
	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

// Claims is the signed token payload. It is never persisted; the token
// store holds only the identifier and expiry.
type Claims struct {
	Scopes    []string  `json:"scopes,omitempty"`
	TokenType TokenType `json:"type"`
	jwt.RegisteredClaims
}

// TokenRef is the unverified remnant of an expired token. It exists so
// the cleanup path cannot be mistaken for a validated payload: nothing
// that authorizes an action accepts a TokenRef.
type TokenRef struct {
	ID      string
	Subject string
}

// Codec signs and decodes HS256 claim strings with a single shared
// secret.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec constructs a Codec. The secret must not be empty.
func NewCodec(secret string, now func() time.Time) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Codec{secret: []byte(secret), now: now}, nil
}

// Sign serializes and signs claims. Deterministic for identical claims
// and secret.
func (c *Codec) Sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature and timestamps of token and returns its
// claims. A past expiry on an otherwise valid token yields Expired; any
// structural or signature problem yields Damaged. Callers must treat the
// two differently: Expired triggers store cleanup before rejection.
func (c *Codec) Decode(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, Expired()
		}
		return nil, Damaged()
	}
	if !parsed.Valid {
		return nil, Damaged()
	}
	return claims, nil
}

// DecodeUnverified extracts the token identifier without checking the
// signature. It is used only to purge the record of an expired token;
// the narrow TokenRef return type keeps it out of authorization paths.
func (c *Codec) DecodeUnverified(token string) (TokenRef, error) {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return TokenRef{}, Damaged()
	}
	return TokenRef{ID: claims.ID, Subject: claims.Subject}, nil
}
