package auth

import (
	"strings"
	"testing"
)

func TestCheckScopes(t *testing.T) {
	cases := []struct {
		name     string
		required []string
		granted  []string
		allow    bool
	}{
		{"empty requirement always allows", nil, nil, true},
		{"exact match", []string{"me"}, []string{"me"}, true},
		{"superset granted", []string{"me"}, []string{"me", "items"}, true},
		{"both required", []string{"me", "items"}, []string{"me", "items"}, true},
		{"missing one", []string{"me", "items"}, []string{"me"}, false},
		{"anonymous with requirement", []string{"me"}, nil, false},
	}
	for _, tc := range cases {
		err := CheckScopes(tc.required, tc.granted)
		if tc.allow && err != nil {
			t.Fatalf("%s: unexpected denial: %v", tc.name, err)
		}
		if !tc.allow {
			ae, ok := AsError(err)
			if !ok || ae.Reason != ReasonForbidden {
				t.Fatalf("%s: expected Forbidden, got %v", tc.name, err)
			}
			if ae.Message != "Not enough permissions" {
				t.Fatalf("%s: unexpected message %q", tc.name, ae.Message)
			}
			if !strings.Contains(ae.Challenge, strings.Join(tc.required, " ")) {
				t.Fatalf("%s: challenge %q does not echo required scopes", tc.name, ae.Challenge)
			}
		}
	}
}

func TestCheckRole(t *testing.T) {
	admin := Principal{Username: "Admin", Role: RoleAdmin, Status: StatusActive}

	if err := CheckRole(admin, RoleAdmin); err != nil {
		t.Fatalf("admin should pass an admin gate: %v", err)
	}
	if err := CheckRole(admin, RoleAdmin, RoleDirector); err != nil {
		t.Fatalf("admin should pass an admin-or-director gate: %v", err)
	}
	err := CheckRole(admin, RoleDirector)
	ae, ok := AsError(err)
	if !ok || ae.Reason != ReasonForbidden || ae.Message != "Not enough permissions" {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}

func TestAuthStateGates(t *testing.T) {
	anon := AnonymousPrincipal()
	user := Principal{Username: "User", Role: RoleVisitor, Status: StatusActive}

	if err := CheckAuthenticated(user); err != nil {
		t.Fatalf("real identity should pass: %v", err)
	}
	err := CheckAuthenticated(anon)
	ae, ok := AsError(err)
	if !ok || ae.Message != "Not authorized" {
		t.Fatalf("expected Not authorized, got %v", err)
	}

	if err := CheckAnonymous(anon); err != nil {
		t.Fatalf("anonymous should pass the anonymous-only gate: %v", err)
	}
	err = CheckAnonymous(user)
	ae, ok = AsError(err)
	if !ok || ae.Message != "Already authorized username 'User' role visitor" {
		t.Fatalf("unexpected denial: %v", err)
	}
}

func TestGatesDenyAnonymousWithRequirements(t *testing.T) {
	anon := AnonymousPrincipal()

	if err := CheckScopes([]string{"me"}, nil); err == nil {
		t.Fatal("scope gate should deny anonymous")
	}
	if err := CheckRole(anon, RoleVisitor); err == nil {
		t.Fatal("role gate should deny the guest sentinel")
	}
	if err := CheckScopes(nil, nil); err != nil {
		t.Fatalf("empty requirement should allow anonymous: %v", err)
	}
}
