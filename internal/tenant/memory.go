package tenant

import (
	"context"
	"sync"
	"time"
)

// InMemory implements Store with process-local maps.
type InMemory struct {
	mu          sync.Mutex
	tenants     map[string]*Tenant
	roles       map[string]*Role       // role ID -> role
	memberships map[string]*Membership // tenantID+"/"+userID -> membership
	invites     map[string]*Invite     // code -> invite
}

var _ Store = (*InMemory)(nil)

// NewInMemory returns an empty in-memory tenant store.
func NewInMemory() *InMemory {
	return &InMemory{
		tenants:     make(map[string]*Tenant),
		roles:       make(map[string]*Role),
		memberships: make(map[string]*Membership),
		invites:     make(map[string]*Invite),
	}
}

func (m *InMemory) CreateTenant(ctx context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tenants {
		if existing.Slug == t.Slug {
			return ErrAlreadyExists
		}
	}
	cp := *t
	m.tenants[t.ID] = &cp
	return nil
}

func (m *InMemory) FindTenant(ctx context.Context, id string) (*Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *InMemory) FindTenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.Slug == slug {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *InMemory) UpsertRole(ctx context.Context, r *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if existing.TenantID == r.TenantID && existing.Key == r.Key && existing.ID != r.ID {
			keep := existing.ID
			*existing = *copyRole(r)
			existing.ID = keep
			return nil
		}
	}
	m.roles[r.ID] = copyRole(r)
	return nil
}

func (m *InMemory) FindRole(ctx context.Context, tenantID, roleID string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[roleID]
	if !ok || r.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return copyRole(r), nil
}

func (m *InMemory) FindRoleByKey(ctx context.Context, tenantID, key string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.TenantID == tenantID && r.Key == key {
			return copyRole(r), nil
		}
	}
	return nil, ErrNotFound
}

func (m *InMemory) ListRoles(ctx context.Context, tenantID string) ([]*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Role
	for _, r := range m.roles {
		if r.TenantID == tenantID {
			out = append(out, copyRole(r))
		}
	}
	return out, nil
}

func (m *InMemory) UpsertMembership(ctx context.Context, mem *Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *mem
	m.memberships[mem.TenantID+"/"+mem.UserID] = &cp
	return nil
}

func (m *InMemory) FindMembership(ctx context.Context, tenantID, userID string) (*Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.memberships[tenantID+"/"+userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *mem
	return &cp, nil
}

func (m *InMemory) ListMemberships(ctx context.Context, tenantID string) ([]*Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Membership
	for _, mem := range m.memberships {
		if mem.TenantID == tenantID {
			cp := *mem
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *InMemory) CreateInvite(ctx context.Context, inv *Invite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invites[inv.Code]; ok {
		return ErrAlreadyExists
	}
	cp := *inv
	m.invites[inv.Code] = &cp
	return nil
}

func (m *InMemory) FindInviteByCode(ctx context.Context, code string) (*Invite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *InMemory) MarkInviteAccepted(ctx context.Context, code string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[code]
	if !ok || inv.Status != InvitePending {
		return false, nil
	}
	inv.Status = InviteAccepted
	return true, nil
}

func copyRole(r *Role) *Role {
	cp := *r
	cp.Permissions = append([]string(nil), r.Permissions...)
	return &cp
}
