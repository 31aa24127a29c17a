package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status describes whether an identity may authenticate. Only active
// identities do; the others still exist in the store.
type Status string

const (
	StatusDeleted Status = "deleted"
	StatusBlocked Status = "blocked"
	StatusActive  Status = "active"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusDeleted, StatusBlocked, StatusActive:
		return true
	}
	return false
}

// Role is a rung in the ordered privilege hierarchy. Lower rank means
// more privilege.
type Role int

const (
	RoleSystem Role = iota + 1
	RoleSuperAdmin
	RoleAdmin
	RoleAdminAssistant
	RoleDirector
	RoleDirectorAssistant
	RoleEmployee
	RoleVisitorVIP
	RoleVisitor
	RoleGuest
)

var roleNames = map[Role]string{
	RoleSystem:            "system",
	RoleSuperAdmin:        "super_admin",
	RoleAdmin:             "admin",
	RoleAdminAssistant:    "admin_assistant",
	RoleDirector:          "director",
	RoleDirectorAssistant: "director_assistant",
	RoleEmployee:          "employee",
	RoleVisitorVIP:        "visitor_vip",
	RoleVisitor:           "visitor",
	RoleGuest:             "guest",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Valid reports whether r names a known role.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// AtLeast reports whether r carries at least the privilege of other.
func (r Role) AtLeast(other Role) bool {
	return r <= other
}

// ParseRole resolves a role name back to its rank.
func ParseRole(name string) (Role, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	for role, n := range roleNames {
		if n == name {
			return role, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", name)
}

// MarshalJSON encodes the role by name so wire payloads stay readable.
func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	role, err := ParseRole(name)
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// Identity is a principal persisted in the identity store.
type Identity struct {
	Username     string
	PasswordHash string
	FirstName    string
	LastName     string
	Email        string
	Status       Status
	Role         Role
	DateJoined   time.Time
	LastLogin    *time.Time
}

// IdentityConfig carries the fields required to construct an Identity.
// Username, Email and Password are mandatory; Role defaults to visitor.
type IdentityConfig struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      Role
}

// NewIdentity validates cfg, hashes the password and returns an active
// identity ready for insertion.
func NewIdentity(cfg IdentityConfig) (*Identity, error) {
	cfg.Username = strings.TrimSpace(cfg.Username)
	cfg.Email = strings.TrimSpace(cfg.Email)
	if cfg.Username == "" {
		return nil, errors.New("username is required")
	}
	if cfg.Email == "" {
		return nil, errors.New("email is required")
	}
	if cfg.Password == "" {
		return nil, errors.New("password is required")
	}
	if cfg.Role == 0 {
		cfg.Role = RoleVisitor
	}
	if !cfg.Role.Valid() {
		return nil, fmt.Errorf("unknown role %d", int(cfg.Role))
	}
	hash, err := HashPassword(cfg.Password)
	if err != nil {
		return nil, err
	}
	return &Identity{
		Username:     cfg.Username,
		PasswordHash: hash,
		FirstName:    cfg.FirstName,
		LastName:     cfg.LastName,
		Email:        cfg.Email,
		Status:       StatusActive,
		Role:         cfg.Role,
		DateJoined:   time.Now().UTC(),
	}, nil
}

// CheckPassword verifies password against the stored hash.
func (i *Identity) CheckPassword(password string) bool {
	return VerifyPassword(i.PasswordHash, password) == nil
}

// Principal returns the request-facing view of the identity, without
// the password hash.
func (i *Identity) Principal() Principal {
	return Principal{
		Username:   i.Username,
		Role:       i.Role,
		Status:     i.Status,
		Email:      i.Email,
		FirstName:  i.FirstName,
		LastName:   i.LastName,
		DateJoined: i.DateJoined,
		LastLogin:  i.LastLogin,
	}
}

// AnonymousUsername is the fixed name of the sentinel principal used
// when no credential was presented.
const AnonymousUsername = "Anonym"

// Principal is the resolved caller of a request: either a stored
// identity or the anonymous sentinel.
type Principal struct {
	Username   string     `json:"username"`
	Role       Role       `json:"role"`
	Status     Status     `json:"status"`
	Email      string     `json:"email,omitempty"`
	FirstName  string     `json:"first_name,omitempty"`
	LastName   string     `json:"last_name,omitempty"`
	DateJoined time.Time  `json:"date_joined,omitempty"`
	LastLogin  *time.Time `json:"last_login,omitempty"`
	Anonymous  bool       `json:"anonymous,omitempty"`
}

// AnonymousPrincipal returns the sentinel principal. It is never
// persisted.
func AnonymousPrincipal() Principal {
	return Principal{
		Username:  AnonymousUsername,
		Role:      RoleGuest,
		Status:    StatusActive,
		Anonymous: true,
	}
}

// TokenRecord is the persisted proof that an issued token is still
// live. Deleting the record revokes the token regardless of its
// cryptographic validity.
type TokenRecord struct {
	ID        string
	Username  string
	ExpiresAt time.Time
	CreatedAt time.Time
}
