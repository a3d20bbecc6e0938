// Package policy is the single access-control table of the API. Authorize is a
// pure function: it never touches storage, and ownership must be resolved by the
// caller before the decision.
package policy

import "library-lending/internal/model"

type Resource string

const (
	ResourceAuth  Resource = "auth"
	ResourceBook  Resource = "book"
	ResourceUser  Resource = "user"
	ResourceLoan  Resource = "loan"
	ResourceAudit Resource = "audit"

	// ResourceProfile has no rule of its own: any authenticated caller passes.
	ResourceProfile Resource = "profile"
)

type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Request describes one operation. Owner is the subject (email) the target
// resource belongs to, or empty when it has no owner or could not be resolved.
type Request struct {
	Resource Resource
	Action   Action
	Owner    string
}

type rule struct {
	resource Resource
	actions  []Action // nil matches every action
	allow    func(identity *model.Identity, req Request) bool
}

// rules is evaluated top to bottom; the first rule matching resource and action
// decides. Anything unmatched falls through to the authenticated default.
var rules = []rule{
	{resource: ResourceAuth, allow: anyone},

	{resource: ResourceBook, actions: []Action{ActionRead}, allow: hasAnyRole(model.RoleUser, model.RoleAdmin)},
	{resource: ResourceBook, actions: []Action{ActionCreate, ActionUpdate, ActionDelete}, allow: hasAnyRole(model.RoleAdmin)},

	{resource: ResourceUser, allow: hasAnyRole(model.RoleAdmin)},

	{resource: ResourceLoan, actions: []Action{ActionRead}, allow: adminOrOwner},
	{resource: ResourceLoan, allow: hasAnyRole(model.RoleAdmin)},

	{resource: ResourceAudit, allow: hasAnyRole(model.RoleAdmin)},
}

// Authorize decides req for identity. A nil identity is an anonymous caller.
func Authorize(identity *model.Identity, req Request) Decision {
	for _, r := range rules {
		if r.resource != req.Resource || !r.matches(req.Action) {
			continue
		}
		if r.allow(identity, req) {
			return Allow
		}
		return Deny
	}

	if authenticated(identity) {
		return Allow
	}
	return Deny
}

func (r rule) matches(action Action) bool {
	if r.actions == nil {
		return true
	}
	for _, a := range r.actions {
		if a == action {
			return true
		}
	}
	return false
}

func anyone(*model.Identity, Request) bool {
	return true
}

func authenticated(identity *model.Identity) bool {
	return identity != nil && identity.Subject != ""
}

func hasAnyRole(roles ...model.Role) func(*model.Identity, Request) bool {
	return func(identity *model.Identity, _ Request) bool {
		if !authenticated(identity) {
			return false
		}
		for _, role := range roles {
			if identity.HasRole(role) {
				return true
			}
		}
		return false
	}
}

func adminOrOwner(identity *model.Identity, req Request) bool {
	if !authenticated(identity) {
		return false
	}
	if identity.HasRole(model.RoleAdmin) {
		return true
	}
	return req.Owner != "" && req.Owner == identity.Subject
}
