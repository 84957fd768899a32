package tenant

import (
	"context"

	"authly.org/internal/auth"
)

// AuthorizationContext is the per-request result of tenant resolution:
// who the user is, which tenant was selected and which permissions apply.
// It is built fresh on every request and never cached, so role and
// membership changes take effect on the next request.
type AuthorizationContext struct {
	UserID       string
	Superadmin   bool
	TenantID     string
	MembershipID string
	RoleID       string
	RoleKey      string
	Permissions  map[string]struct{}
}

// Has reports whether the exact permission string was granted.
func (c *AuthorizationContext) Has(perm string) bool {
	_, ok := c.Permissions[perm]
	return ok
}

// Resolver builds AuthorizationContexts from an authenticated principal
// and a requested tenant. Resolution is stateless per request.
type Resolver struct {
	store Store
}

// NewResolver constructs a Resolver over the tenant store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve maps (principal, tenant selector) to an authorization context.
// Superadmins bypass membership entirely and carry an empty permission
// set; their checks happen on the flag, not on set membership. Everyone
// else must select a tenant and hold an active membership whose role
// still exists there.
func (r *Resolver) Resolve(ctx context.Context, principal auth.Principal, tenantID string) (*AuthorizationContext, error) {
	if principal.IsSuperAdmin {
		return &AuthorizationContext{
			UserID:      principal.UserID,
			Superadmin:  true,
			TenantID:    tenantID,
			Permissions: map[string]struct{}{},
		}, nil
	}
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	m, err := r.store.FindMembership(ctx, tenantID, principal.UserID)
	if err != nil {
		return nil, ErrNotAMember
	}
	if m.Status != MembershipActive {
		return nil, ErrNotAMember
	}
	role, err := r.store.FindRole(ctx, tenantID, m.RoleID)
	if err != nil {
		// Roles can be deleted independently of memberships.
		return nil, ErrRoleMissing
	}
	perms := make(map[string]struct{}, len(role.Permissions))
	for _, p := range role.Permissions {
		perms[p] = struct{}{}
	}
	return &AuthorizationContext{
		UserID:       principal.UserID,
		TenantID:     tenantID,
		MembershipID: m.ID,
		RoleID:       role.ID,
		RoleKey:      role.Key,
		Permissions:  perms,
	}, nil
}

// Require gates an operation on a permission. Superadmins always pass;
// everyone else needs the exact permission string in their set.
func Require(c *AuthorizationContext, perm string) error {
	if c == nil {
		return ErrForbidden
	}
	if c.Superadmin {
		return nil
	}
	if !c.Has(perm) {
		return ErrForbidden
	}
	return nil
}
