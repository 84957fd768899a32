package tenant

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"authly.org/internal/ids"
)

const inviteTTL = 7 * 24 * time.Hour

var (
	// 2-64 chars, must start and end alphanumeric.
	slugPattern   = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}[a-z0-9]$`)
	reservedSlugs = map[string]bool{
		"admin":  true,
		"api":    true,
		"www":    true,
		"root":   true,
		"system": true,
	}
)

// Service owns tenant provisioning: tenant creation with default role
// seeding, invite issuance and invite acceptance.
type Service struct {
	store Store
	now   func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithServiceClock overrides the time source (useful for tests).
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service over the tenant store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create provisions a tenant, seeds the four default roles and makes the
// creator an active owner. The slug defaults to a slugified name when
// empty and is immutable afterwards.
func (s *Service) Create(ctx context.Context, creatorID, name, slug string) (*Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if creatorID == "" {
		return nil, fmt.Errorf("%w: creator is required", ErrInvalidInput)
	}
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		slug = Slugify(name)
	}
	if !slugPattern.MatchString(slug) {
		return nil, fmt.Errorf("%w: slug must be 2-64 chars of [a-z0-9-] with alphanumeric ends", ErrInvalidInput)
	}
	if reservedSlugs[slug] {
		return nil, fmt.Errorf("%w: slug %q is reserved", ErrInvalidInput, slug)
	}

	now := s.now().UTC()
	t := &Tenant{
		ID:        ids.New(),
		Name:      name,
		Slug:      slug,
		CreatedAt: now,
	}
	if err := s.store.CreateTenant(ctx, t); err != nil {
		return nil, err
	}

	var ownerRoleID string
	for _, def := range defaultRoles() {
		role := &Role{
			ID:          ids.New(),
			TenantID:    t.ID,
			Key:         def.Key,
			Name:        def.Name,
			Permissions: def.Permissions,
			CreatedAt:   now,
		}
		if err := s.store.UpsertRole(ctx, role); err != nil {
			return nil, err
		}
		if def.Key == "owner" {
			ownerRoleID = role.ID
		}
	}

	member := &Membership{
		ID:        ids.New(),
		TenantID:  t.ID,
		UserID:    creatorID,
		RoleID:    ownerRoleID,
		RoleKey:   "owner",
		Status:    MembershipActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.UpsertMembership(ctx, member); err != nil {
		return nil, err
	}
	return t, nil
}

// Invite issues a pending, single-use membership offer for an email
// address. The role is resolved by key and must belong to the tenant.
func (s *Service) Invite(ctx context.Context, tenantID, inviterID, email, roleKey string) (*Invite, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	roleKey = strings.TrimSpace(roleKey)
	if roleKey == "" {
		return nil, fmt.Errorf("%w: role key is required", ErrInvalidInput)
	}
	if _, err := s.store.FindTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	role, err := s.store.FindRoleByKey(ctx, tenantID, roleKey)
	if err != nil {
		return nil, fmt.Errorf("%w: role %q not in tenant", ErrInvalidInput, roleKey)
	}

	now := s.now().UTC()
	inv := &Invite{
		ID:        ids.New(),
		TenantID:  tenantID,
		Email:     email,
		RoleID:    role.ID,
		RoleKey:   role.Key,
		Code:      uuid.NewString(),
		InvitedBy: inviterID,
		Status:    InvitePending,
		ExpiresAt: now.Add(inviteTTL),
		CreatedAt: now,
	}
	if err := s.store.CreateInvite(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Accept consumes an invite code on behalf of an authenticated user and
// materializes an active membership with the invited role. Codes are
// single-use: a replay, an expired code or a revoked invite all fail with
// ErrNotFound so the endpoint does not reveal invite state.
func (s *Service) Accept(ctx context.Context, userID, code string) (*Membership, error) {
	code = strings.TrimSpace(code)
	if code == "" || userID == "" {
		return nil, fmt.Errorf("%w: code and user are required", ErrInvalidInput)
	}
	inv, err := s.store.FindInviteByCode(ctx, code)
	if err != nil {
		return nil, ErrNotFound
	}
	now := s.now().UTC()
	if inv.Status != InvitePending || !now.Before(inv.ExpiresAt) {
		return nil, ErrNotFound
	}
	won, err := s.store.MarkInviteAccepted(ctx, code, now)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrNotFound
	}

	m := &Membership{
		ID:        ids.New(),
		TenantID:  inv.TenantID,
		UserID:    userID,
		RoleID:    inv.RoleID,
		RoleKey:   inv.RoleKey,
		Status:    MembershipActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, err := s.store.FindMembership(ctx, inv.TenantID, userID); err == nil {
		// Re-invited user: reuse the membership record, refresh role and
		// reactivate.
		m.ID = existing.ID
		m.CreatedAt = existing.CreatedAt
	}
	if err := s.store.UpsertMembership(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Roles lists the roles of a tenant.
func (s *Service) Roles(ctx context.Context, tenantID string) ([]*Role, error) {
	return s.store.ListRoles(ctx, tenantID)
}

var slugStrip = regexp.MustCompile(`[^a-z0-9-]+`)

// Slugify derives a URL-safe slug from a display name.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "-")
	s = slugStrip.ReplaceAllString(s, "")
	s = strings.Trim(s, "-")
	if len(s) > 64 {
		s = strings.TrimRight(s[:64], "-")
	}
	return s
}
