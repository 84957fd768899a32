package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"authly.org/internal/tenant"
)

// Tenants is the Postgres-backed tenant.Store.
type Tenants struct{ db *sql.DB }

var _ tenant.Store = (*Tenants)(nil)

// Tenants returns the tenancy repository bound to the pool.
func (s *Store) Tenants() *Tenants { return &Tenants{db: s.db} }

func (r *Tenants) CreateTenant(ctx context.Context, t *tenant.Tenant) error {
	_, err := r.db.ExecContext(ctx, `
		insert into tenants (id, name, slug, created_at) values ($1, $2, $3, $4)
	`, t.ID, t.Name, t.Slug, t.CreatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return tenant.ErrAlreadyExists
	}
	return err
}

func (r *Tenants) FindTenant(ctx context.Context, id string) (*tenant.Tenant, error) {
	return r.tenantBy(ctx, `id = $1`, id)
}

func (r *Tenants) FindTenantBySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	return r.tenantBy(ctx, `slug = $1`, slug)
}

func (r *Tenants) tenantBy(ctx context.Context, predicate string, arg any) (*tenant.Tenant, error) {
	var t tenant.Tenant
	err := r.db.QueryRowContext(ctx,
		`select id, name, slug, created_at from tenants where `+predicate, arg,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenant.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Tenants) UpsertRole(ctx context.Context, role *tenant.Role) error {
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		insert into roles (id, tenant_id, key, name, permissions, created_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (tenant_id, key) do update
		set name = excluded.name, permissions = excluded.permissions
	`, role.ID, role.TenantID, role.Key, role.Name, perms, role.CreatedAt)
	return err
}

func (r *Tenants) FindRole(ctx context.Context, tenantID, roleID string) (*tenant.Role, error) {
	return r.roleBy(ctx, `tenant_id = $1 and id = $2`, tenantID, roleID)
}

func (r *Tenants) FindRoleByKey(ctx context.Context, tenantID, key string) (*tenant.Role, error) {
	return r.roleBy(ctx, `tenant_id = $1 and key = $2`, tenantID, key)
}

func (r *Tenants) roleBy(ctx context.Context, predicate string, args ...any) (*tenant.Role, error) {
	var (
		role     tenant.Role
		rawPerms []byte
	)
	err := r.db.QueryRowContext(ctx,
		`select id, tenant_id, key, name, permissions, created_at from roles where `+predicate, args...,
	).Scan(&role.ID, &role.TenantID, &role.Key, &role.Name, &rawPerms, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenant.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(rawPerms) > 0 {
		if err := json.Unmarshal(rawPerms, &role.Permissions); err != nil {
			return nil, fmt.Errorf("decode permissions: %w", err)
		}
	}
	return &role, nil
}

func (r *Tenants) ListRoles(ctx context.Context, tenantID string) ([]*tenant.Role, error) {
	rows, err := r.db.QueryContext(ctx, `
		select id, tenant_id, key, name, permissions, created_at
		from roles where tenant_id = $1 order by key
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*tenant.Role
	for rows.Next() {
		var (
			role     tenant.Role
			rawPerms []byte
		)
		if err := rows.Scan(&role.ID, &role.TenantID, &role.Key, &role.Name, &rawPerms, &role.CreatedAt); err != nil {
			return nil, err
		}
		if len(rawPerms) > 0 {
			if err := json.Unmarshal(rawPerms, &role.Permissions); err != nil {
				return nil, err
			}
		}
		roles = append(roles, &role)
	}
	return roles, rows.Err()
}

func (r *Tenants) UpsertMembership(ctx context.Context, m *tenant.Membership) error {
	_, err := r.db.ExecContext(ctx, `
		insert into memberships (id, tenant_id, user_id, role_id, role_key, status, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		on conflict (tenant_id, user_id) do update
		set role_id = excluded.role_id, role_key = excluded.role_key,
		    status = excluded.status, updated_at = excluded.updated_at
	`, m.ID, m.TenantID, m.UserID, m.RoleID, m.RoleKey, string(m.Status), m.CreatedAt, m.UpdatedAt)
	return err
}

func (r *Tenants) FindMembership(ctx context.Context, tenantID, userID string) (*tenant.Membership, error) {
	var (
		m      tenant.Membership
		status string
	)
	err := r.db.QueryRowContext(ctx, `
		select id, tenant_id, user_id, role_id, role_key, status, created_at, updated_at
		from memberships where tenant_id = $1 and user_id = $2
	`, tenantID, userID).Scan(&m.ID, &m.TenantID, &m.UserID, &m.RoleID, &m.RoleKey, &status, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenant.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Status = tenant.MembershipStatus(status)
	return &m, nil
}

func (r *Tenants) ListMemberships(ctx context.Context, tenantID string) ([]*tenant.Membership, error) {
	rows, err := r.db.QueryContext(ctx, `
		select id, tenant_id, user_id, role_id, role_key, status, created_at, updated_at
		from memberships where tenant_id = $1 order by created_at
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*tenant.Membership
	for rows.Next() {
		var (
			m      tenant.Membership
			status string
		)
		if err := rows.Scan(&m.ID, &m.TenantID, &m.UserID, &m.RoleID, &m.RoleKey, &status, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.Status = tenant.MembershipStatus(status)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (r *Tenants) CreateInvite(ctx context.Context, inv *tenant.Invite) error {
	_, err := r.db.ExecContext(ctx, `
		insert into invites (id, tenant_id, email, role_id, role_key, code, invited_by, status, expires_at, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, inv.ID, inv.TenantID, inv.Email, inv.RoleID, inv.RoleKey, inv.Code, inv.InvitedBy,
		string(inv.Status), inv.ExpiresAt, inv.CreatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return tenant.ErrAlreadyExists
	}
	return err
}

func (r *Tenants) FindInviteByCode(ctx context.Context, code string) (*tenant.Invite, error) {
	var (
		inv    tenant.Invite
		status string
	)
	err := r.db.QueryRowContext(ctx, `
		select id, tenant_id, email, role_id, role_key, code, invited_by, status, expires_at, created_at
		from invites where code = $1
	`, code).Scan(&inv.ID, &inv.TenantID, &inv.Email, &inv.RoleID, &inv.RoleKey, &inv.Code,
		&inv.InvitedBy, &status, &inv.ExpiresAt, &inv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenant.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	inv.Status = tenant.InviteStatus(status)
	return &inv, nil
}

// MarkInviteAccepted is the single-use gate: the status predicate makes the
// pending -> accepted transition win at most once.
func (r *Tenants) MarkInviteAccepted(ctx context.Context, code string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		update invites set status = 'accepted' where code = $1 and status = 'pending' and expires_at > $2
	`, code, at)
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff == 1, nil
}
