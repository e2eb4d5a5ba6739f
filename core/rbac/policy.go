// Package rbac wraps a casbin enforcer over the built-in role model. Roles
// are stored on the user record; the policy maps them to workflow actions.
package rbac

import (
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

const (
	RoleReporter = "reporter"
	RoleLD       = "ld"
	RoleOps      = "ops"
	RoleAdmin    = "admin"
)

const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (r.obj == p.obj || p.obj == "*") && (r.act == p.act || p.act == "*")
`

// Rows are (role, object, action). Objects mirror the API surface, not the
// storage layout.
var policyRows = [][]string{
	{RoleReporter, "incidents", "create"},
	{RoleReporter, "incidents", "read"},
	{RoleReporter, "comments", "create"},
	{RoleReporter, "files", "upload"},
	{RoleReporter, "files", "read"},

	{RoleLD, "incidents", "read"},
	{RoleLD, "incidents", "review"},
	{RoleLD, "incidents", "close"},
	{RoleLD, "incidents", "override"},
	{RoleLD, "incidents", "assess"},
	{RoleLD, "drafts", "read"},
	{RoleLD, "drafts", "edit"},
	{RoleLD, "comments", "create"},
	{RoleLD, "files", "read"},

	{RoleOps, "incidents", "read"},
	{RoleOps, "incidents", "close"},
	{RoleOps, "drafts", "read"},
	{RoleOps, "drafts", "send"},
	{RoleOps, "comments", "create"},
	{RoleOps, "files", "read"},

	{RoleAdmin, "*", "*"},
}

type Policy struct {
	enforcer *casbin.Enforcer
}

func New() (*Policy, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}
	for _, row := range policyRows {
		if _, err := e.AddPolicy(row[0], row[1], row[2]); err != nil {
			return nil, err
		}
	}
	return &Policy{enforcer: e}, nil
}

// Allowed reports whether any of the roles grants the action on the object.
func (p *Policy) Allowed(roles []string, obj, act string) bool {
	if p == nil || p.enforcer == nil {
		return false
	}
	for _, role := range roles {
		ok, err := p.enforcer.Enforce(role, obj, act)
		if err == nil && ok {
			return true
		}
	}
	return false
}

// ReviewingRole reports whether any of the roles participates in adjudication
// or dispatch. Both trigger the move into review when they open a case.
func ReviewingRole(roles []string) bool {
	return HasRole(roles, RoleLD) || HasRole(roles, RoleOps) || HasRole(roles, RoleAdmin)
}

func HasRole(roles []string, want string) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}
