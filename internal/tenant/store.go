package tenant

import (
	"context"
	"time"
)

// Store persists tenants, roles, memberships and invites. Implementations
// must enforce slug uniqueness on CreateTenant and invite-code uniqueness
// on CreateInvite, and must make AcceptInvite's pending -> accepted
// transition atomic so a code is consumed at most once.
type Store interface {
	CreateTenant(ctx context.Context, t *Tenant) error
	FindTenant(ctx context.Context, id string) (*Tenant, error)
	FindTenantBySlug(ctx context.Context, slug string) (*Tenant, error)

	UpsertRole(ctx context.Context, r *Role) error
	FindRole(ctx context.Context, tenantID, roleID string) (*Role, error)
	FindRoleByKey(ctx context.Context, tenantID, key string) (*Role, error)
	ListRoles(ctx context.Context, tenantID string) ([]*Role, error)

	UpsertMembership(ctx context.Context, m *Membership) error
	FindMembership(ctx context.Context, tenantID, userID string) (*Membership, error)
	ListMemberships(ctx context.Context, tenantID string) ([]*Membership, error)

	CreateInvite(ctx context.Context, inv *Invite) error
	FindInviteByCode(ctx context.Context, code string) (*Invite, error)

	// MarkInviteAccepted flips the invite matching (code, status=pending)
	// to accepted in a single conditional operation. Returns false when no
	// pending invite matched.
	MarkInviteAccepted(ctx context.Context, code string, at time.Time) (bool, error)
}
