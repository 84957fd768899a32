package tenant

import "time"

// Tenant is an isolated namespace. The slug is unique and immutable after
// creation; it is the human-facing handle used in URLs and invites.
type Tenant struct {
	ID        string
	Name      string
	Slug      string
	CreatedAt time.Time
}

// MembershipStatus tracks the lifecycle of a user's link to a tenant.
type MembershipStatus string

const (
	MembershipActive   MembershipStatus = "active"
	MembershipInvited  MembershipStatus = "invited"
	MembershipDisabled MembershipStatus = "disabled"
)

// Membership links a user to a tenant with a role reference. Only active
// memberships grant access.
type Membership struct {
	ID        string
	TenantID  string
	UserID    string
	RoleID    string
	RoleKey   string
	Status    MembershipStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Role carries a flat permission set scoped to one tenant. Permission
// strings are only meaningful inside their owning tenant.
type Role struct {
	ID          string
	TenantID    string
	Key         string
	Name        string
	Permissions []string
	CreatedAt   time.Time
}

// Has reports whether the role grants the exact permission string.
func (r *Role) Has(perm string) bool {
	for _, p := range r.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// InviteStatus tracks a pending membership offer.
type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteRevoked  InviteStatus = "revoked"
)

// Invite is a single-use membership offer. The code is consumed exactly
// once on acceptance, which materializes an active Membership.
type Invite struct {
	ID        string
	TenantID  string
	Email     string
	RoleID    string
	RoleKey   string
	Code      string
	InvitedBy string
	Status    InviteStatus
	ExpiresAt time.Time
	CreatedAt time.Time
}
