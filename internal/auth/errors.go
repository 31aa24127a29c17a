package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotFound is returned by stores when a requested row does not exist.
var ErrNotFound = errors.New("auth: not found")

// Reason classifies an authentication or authorization failure. Callers
// branch on the tag rather than on error message text.
type Reason int

const (
	// ReasonDamaged covers signature mismatches, malformed token
	// structure and unsupported algorithms.
	ReasonDamaged Reason = iota
	// ReasonExpired means the signature verified but the expiry passed.
	ReasonExpired
	// ReasonUnauthenticated means the token had no live record, the
	// identity is missing or inactive, or the subject claim is absent.
	ReasonUnauthenticated
	// ReasonForbidden means the caller authenticated but failed a
	// role, scope or auth-state gate.
	ReasonForbidden
	// ReasonBadCredentials means a login attempt with a wrong
	// username or password.
	ReasonBadCredentials
	// ReasonUnavailable means the authorization server could not be
	// reached by the resource server.
	ReasonUnavailable
)

func (r Reason) String() string {
	switch r {
	case ReasonDamaged:
		return "damaged"
	case ReasonExpired:
		return "expired"
	case ReasonUnauthenticated:
		return "unauthenticated"
	case ReasonForbidden:
		return "forbidden"
	case ReasonBadCredentials:
		return "bad_credentials"
	case ReasonUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is the tagged failure surfaced at the HTTP boundary as
// {"detail": Message} together with the WWW-Authenticate challenge.
type Error struct {
	Reason    Reason
	Message   string
	Challenge string
}

func (e *Error) Error() string { return e.Message }

// HTTPStatus maps the failure to its response code.
func (e *Error) HTTPStatus() int {
	if e.Reason == ReasonBadCredentials {
		return http.StatusBadRequest
	}
	return http.StatusUnauthorized
}

// AsError unwraps err into the failure taxonomy.
func AsError(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// Damaged reports a token whose signature or structure did not verify.
func Damaged() *Error {
	return &Error{Reason: ReasonDamaged, Message: "The token is damaged", Challenge: "Bearer"}
}

// Expired reports a signature-valid token past its expiry.
func Expired() *Error {
	return &Error{Reason: ReasonExpired, Message: "The token is expired", Challenge: "Bearer"}
}

// Unauthenticated reports a failure to establish the caller's identity.
func Unauthenticated(message string) *Error {
	return &Error{Reason: ReasonUnauthenticated, Message: message, Challenge: "Bearer"}
}

// Forbidden reports an authenticated caller failing a policy gate.
func Forbidden(message, challenge string) *Error {
	if challenge == "" {
		challenge = "Bearer"
	}
	return &Error{Reason: ReasonForbidden, Message: message, Challenge: challenge}
}

// ForbiddenScopes reports a scope-gate denial with the required scopes
// echoed in the challenge.
func ForbiddenScopes(required []string) *Error {
	challenge := "Bearer"
	if len(required) > 0 {
		challenge = fmt.Sprintf("Bearer scope=%q", strings.Join(required, " "))
	}
	return Forbidden("Not enough permissions", challenge)
}

// BadCredentials reports a failed username/password login.
func BadCredentials() *Error {
	return &Error{Reason: ReasonBadCredentials, Message: "Incorrect username or password", Challenge: "Bearer"}
}

// Unavailable reports that the authorization server could not be reached.
func Unavailable() *Error {
	return &Error{Reason: ReasonUnavailable, Message: "The authorization server is unavailable.", Challenge: "Bearer"}
}
