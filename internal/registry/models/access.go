package models

import (
	"strings"

	id "propledger/pkg/domain"
	dErrors "propledger/pkg/domain-errors"
)

// Role is a named role membership.
type Role string

const (
	RoleApp     Role = "APP_ROLE"
	RoleBackend Role = "BACKEND_ROLE"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleApp, RoleBackend:
		return r, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown role")
	}
}

func (r Role) String() string { return string(r) }

// Principals holds the two singleton principals of the registry.
//
// Admin is the role-management root: it is assigned at genesis and is never
// reassigned by the registry. Owner is the privileged principal that verifies
// records and sets parameters; it can be handed over with TransferOwnership.
type Principals struct {
	Admin id.PrincipalID `json:"admin"`
	Owner id.PrincipalID `json:"owner"`
}

// Grant is one independent source of authorization.
type Grant uint8

const (
	GrantExplicit Grant = 1 << iota
	GrantAppRole
	GrantBackendRole
	GrantOwner
)

var grantNames = []struct {
	g    Grant
	name string
}{
	{GrantExplicit, "explicit"},
	{GrantAppRole, "app_role"},
	{GrantBackendRole, "backend_role"},
	{GrantOwner, "owner"},
}

// Membership is the set of grants a principal holds at one point in time.
type Membership struct {
	Grants Grant
}

// NewMembership builds a membership from the four independent sources.
func NewMembership(explicit, appRole, backendRole, owner bool) Membership {
	var m Membership
	if explicit {
		m.Grants |= GrantExplicit
	}
	if appRole {
		m.Grants |= GrantAppRole
	}
	if backendRole {
		m.Grants |= GrantBackendRole
	}
	if owner {
		m.Grants |= GrantOwner
	}
	return m
}

func (m Membership) Has(g Grant) bool { return m.Grants&g != 0 }

// Authorized is the capability predicate: a principal may call the registry
// iff at least one source grants it.
func (m Membership) Authorized() bool {
	return m.Has(GrantExplicit) || m.Has(GrantAppRole) || m.Has(GrantBackendRole) || m.Has(GrantOwner)
}

// Sources lists the grant names held, for logging.
func (m Membership) Sources() []string {
	var out []string
	for _, gn := range grantNames {
		if m.Has(gn.g) {
			out = append(out, gn.name)
		}
	}
	return out
}

// ContentAccess captures the facts that decide whether a caller may read a
// report's content pointer.
type ContentAccess struct {
	Purchased   bool
	IsOwner     bool
	BackendRole bool
}
