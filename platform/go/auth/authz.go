package auth

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// Permission is an (object, action) pair checked against the role policy.
type Permission struct {
	Object string
	Action string
}

func (p Permission) String() string { return p.Object + ":" + p.Action }

var (
	PermTenantRead        = Permission{"tenant", "read"}
	PermTenantWrite       = Permission{"tenant", "write"}
	PermMembersWrite      = Permission{"members", "write"}
	PermDomainsWrite      = Permission{"domains", "write"}
	PermModulesRead       = Permission{"modules", "read"}
	PermModulesWrite      = Permission{"modules", "write"}
	PermAppointmentsRead  = Permission{"appointments", "read"}
	PermAppointmentsWrite = Permission{"appointments", "write"}
	PermLinksRead         = Permission{"links", "read"}
	PermLinksWrite        = Permission{"links", "write"}
	PermPlatformManage    = Permission{"platform", "manage"}
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// rolePolicy lists the permissions granted directly to each role; higher roles inherit
// everything below them through grouping policies.
var rolePolicy = map[Role][]Permission{
	RoleMember: {PermTenantRead, PermModulesRead, PermAppointmentsRead, PermLinksRead},
	RoleAdmin: {
		PermTenantWrite, PermMembersWrite, PermModulesWrite,
		PermAppointmentsWrite, PermLinksWrite, PermDomainsWrite,
	},
	RoleSystemAdmin: {PermPlatformManage},
}

// Authorizer answers role -> permission questions with a casbin RBAC enforcer.
type Authorizer struct {
	enforcer *casbin.Enforcer
}

// NewAuthorizer builds the in-memory enforcer with the built-in policy.
func NewAuthorizer() (*Authorizer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("authz model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("authz enforcer: %w", err)
	}

	for role, perms := range rolePolicy {
		for _, perm := range perms {
			if _, err := enforcer.AddPolicy(role.String(), perm.Object, perm.Action); err != nil {
				return nil, fmt.Errorf("authz policy %s %s: %w", role, perm, err)
			}
		}
	}
	for _, edge := range [][2]Role{{RoleSystemAdmin, RoleAdmin}, {RoleAdmin, RoleMember}} {
		if _, err := enforcer.AddGroupingPolicy(edge[0].String(), edge[1].String()); err != nil {
			return nil, fmt.Errorf("authz role edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}

	return &Authorizer{enforcer: enforcer}, nil
}

// Allowed reports whether role carries perm.
func (a *Authorizer) Allowed(role Role, perm Permission) bool {
	if !role.Valid() {
		return false
	}
	ok, err := a.enforcer.Enforce(role.String(), perm.Object, perm.Action)
	return err == nil && ok
}

// Can checks a principal. Platform admins carry every permission of system_admin.
func (a *Authorizer) Can(p Principal, perm Permission) bool {
	if p.IsPlatformAdmin {
		return a.Allowed(RoleSystemAdmin, perm)
	}
	return a.Allowed(p.Role, perm)
}
