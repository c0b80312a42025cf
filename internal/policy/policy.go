// Package policy implements the Security Policy gate (spec.md §4.3): given
// a method's security rule and the caller's SecurityContext, decide whether
// the request may proceed. Grounded on the allowed/requires_auth/permission
// checks carried in original_source's token and method-registry adapters,
// reordered into the gateway's own fixed precedence.
package policy

import (
	"github.com/verus-rpc/gateway/infrastructure/errors"
	"github.com/verus-rpc/gateway/internal/registry"
)

// SecurityContext describes what the pipeline knows about the caller at the
// point the policy gate runs.
type SecurityContext struct {
	Authenticated   bool
	Permissions     map[string]struct{}
	DevelopmentMode bool
}

// HasPermission reports whether perm is present in the context.
func (c *SecurityContext) HasPermission(perm string) bool {
	_, ok := c.Permissions[perm]
	return ok
}

// hasAll reports whether every permission in required is present in ctx.
func (c *SecurityContext) hasAll(required map[string]struct{}) bool {
	for perm := range required {
		if !c.HasPermission(perm) {
			return false
		}
	}
	return true
}

// Evaluate applies the three-step security check to def/ctx, in order:
//  1. def.Enabled == false -> MethodNotAllowed.
//  2. def has any RequiredPermissions (an authentication proxy for this
//     gateway, since there is no separate requires_auth flag on
//     MethodDefinition) and ctx is unauthenticated -> Unauthorized.
//  3. ctx's permissions are not a superset of def.RequiredPermissions ->
//     Forbidden.
//
// In development mode, steps 2 and 3 are logged by the caller as warnings
// instead of enforced — Evaluate signals this by returning a non-nil
// *errors.ServiceError alongside ok=true in development mode, so the caller
// can log-and-admit rather than reject.
func Evaluate(def *registry.MethodDefinition, ctx *SecurityContext) (admit bool, warning *errors.ServiceError) {
	if def == nil || !def.Enabled {
		name := ""
		if def != nil {
			name = def.Name
		}
		return false, errors.MethodNotAllowed(name)
	}

	requiresAuth := len(def.RequiredPermissions) > 0
	if requiresAuth && !ctx.Authenticated {
		err := errors.Unauthorized("authentication required for method " + def.Name)
		if ctx.DevelopmentMode {
			return true, err
		}
		return false, err
	}

	if !ctx.hasAll(def.RequiredPermissions) {
		err := errors.Forbidden("missing required permissions for method " + def.Name)
		if ctx.DevelopmentMode {
			return true, err
		}
		return false, err
	}

	return true, nil
}
