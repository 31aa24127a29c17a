package auth

import (
	"fmt"
	"slices"
)

// Gate policies. All of them run after a successful validation; a gate
// never masks a prior validation failure.

// CheckScopes allows when every required scope is present in granted.
// An empty requirement always allows, including for the anonymous
// principal.
func CheckScopes(required, granted []string) error {
	if len(required) == 0 {
		return nil
	}
	for _, scope := range required {
		if !slices.Contains(granted, scope) {
			return ForbiddenScopes(required)
		}
	}
	return nil
}

// CheckRole allows when the principal's role is in the allow-list.
func CheckRole(principal Principal, allowed ...Role) error {
	if slices.Contains(allowed, principal.Role) {
		return nil
	}
	return Forbidden("Not enough permissions", "Bearer")
}

// CheckAuthenticated denies the anonymous sentinel.
func CheckAuthenticated(principal Principal) error {
	if principal.Anonymous {
		return Forbidden("Not authorized", "Bearer")
	}
	return nil
}

// CheckAnonymous denies any real identity.
func CheckAnonymous(principal Principal) error {
	if principal.Anonymous {
		return nil
	}
	return Forbidden(fmt.Sprintf("Already authorized username '%s' role %s", principal.Username, principal.Role), "Bearer")
}
