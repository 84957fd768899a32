package tenant

import (
	"context"
	"errors"
	"testing"
	"time"

	"authly.org/internal/auth"
)

func seedTenant(t *testing.T, store *InMemory, svc *Service, creator string) *Tenant {
	t.Helper()
	tn, err := svc.Create(context.Background(), creator, "Acme Inc", "acme")
	if err != nil {
		t.Fatalf("Create tenant: %v", err)
	}
	return tn
}

func TestResolveRequiresTenantSelector(t *testing.T) {
	store := NewInMemory()
	r := NewResolver(store)

	_, err := r.Resolve(context.Background(), auth.Principal{UserID: "u1"}, "")
	if !errors.Is(err, ErrTenantRequired) {
		t.Fatalf("expected ErrTenantRequired, got %v", err)
	}
}

func TestResolveSuperadminBypassesMembership(t *testing.T) {
	store := NewInMemory()
	r := NewResolver(store)

	// No tenant selector and no membership anywhere.
	c, err := r.Resolve(context.Background(), auth.Principal{UserID: "root", IsSuperAdmin: true}, "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !c.Superadmin {
		t.Fatal("superadmin marker not set")
	}
	if len(c.Permissions) != 0 {
		t.Fatalf("superadmin must carry an empty permission set, got %d entries", len(c.Permissions))
	}
	// The gate works on the flag, not on set membership.
	if err := Require(c, PermTenantUpdate); err != nil {
		t.Fatalf("Require for superadmin: %v", err)
	}
}

func TestResolveNonMemberFails(t *testing.T) {
	store := NewInMemory()
	svc := NewService(store)
	r := NewResolver(store)
	tn := seedTenant(t, store, svc, "owner-1")

	_, err := r.Resolve(context.Background(), auth.Principal{UserID: "stranger"}, tn.ID)
	if !errors.Is(err, ErrNotAMember) {
		t.Fatalf("expected ErrNotAMember, got %v", err)
	}
}

func TestResolveDisabledMembershipFails(t *testing.T) {
	store := NewInMemory()
	svc := NewService(store)
	r := NewResolver(store)
	ctx := context.Background()
	tn := seedTenant(t, store, svc, "owner-1")

	m, err := store.FindMembership(ctx, tn.ID, "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	m.Status = MembershipDisabled
	if err := store.UpsertMembership(ctx, m); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve(ctx, auth.Principal{UserID: "owner-1"}, tn.ID); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("expected ErrNotAMember for disabled membership, got %v", err)
	}
}

func TestResolveMissingRoleFails(t *testing.T) {
	store := NewInMemory()
	svc := NewService(store)
	r := NewResolver(store)
	ctx := context.Background()
	tn := seedTenant(t, store, svc, "owner-1")

	m, err := store.FindMembership(ctx, tn.ID, "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	m.RoleID = "deleted-role"
	if err := store.UpsertMembership(ctx, m); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve(ctx, auth.Principal{UserID: "owner-1"}, tn.ID); !errors.Is(err, ErrRoleMissing) {
		t.Fatalf("expected ErrRoleMissing, got %v", err)
	}
}

func TestResolveReflectsRoleChangeImmediately(t *testing.T) {
	store := NewInMemory()
	svc := NewService(store)
	r := NewResolver(store)
	ctx := context.Background()
	tn := seedTenant(t, store, svc, "owner-1")

	c, err := r.Resolve(ctx, auth.Principal{UserID: "owner-1"}, tn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := Require(c, PermTenantUpdate); err != nil {
		t.Fatalf("owner lost tenant:update: %v", err)
	}

	// Demote to viewer; no caching means the very next request sees it.
	viewer, err := store.FindRoleByKey(ctx, tn.ID, "viewer")
	if err != nil {
		t.Fatal(err)
	}
	m, err := store.FindMembership(ctx, tn.ID, "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	m.RoleID = viewer.ID
	m.RoleKey = viewer.Key
	if err := store.UpsertMembership(ctx, m); err != nil {
		t.Fatal(err)
	}

	c, err = r.Resolve(ctx, auth.Principal{UserID: "owner-1"}, tn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := Require(c, PermTenantUpdate); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden after demotion, got %v", err)
	}
	if err := Require(c, PermProjectRead); err != nil {
		t.Fatalf("viewer lost project:read: %v", err)
	}
}

func TestInviteAcceptEndToEnd(t *testing.T) {
	store := NewInMemory()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(store, WithServiceClock(func() time.Time { return now }))
	r := NewResolver(store)
	ctx := context.Background()

	tn, err := svc.Create(ctx, "alice", "Acme", "acme")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// The creator becomes owner with the full tenant permission set.
	c, err := r.Resolve(ctx, auth.Principal{UserID: "alice"}, tn.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range TenantPermissions() {
		if !c.Has(p) {
			t.Fatalf("owner missing %s", p)
		}
	}
	if c.Has(PermSysUsersManage) {
		t.Fatal("owner must not hold sys:* permissions")
	}

	inv, err := svc.Invite(ctx, tn.ID, "alice", "Bob@Acme.Test", "member")
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if inv.Email != "bob@acme.test" {
		t.Fatalf("invite email not normalized: %q", inv.Email)
	}
	if inv.ExpiresAt != now.Add(7*24*time.Hour) {
		t.Fatalf("invite expiry=%v", inv.ExpiresAt)
	}

	if _, err := svc.Accept(ctx, "bob", inv.Code); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	c, err = r.Resolve(ctx, auth.Principal{UserID: "bob"}, tn.ID)
	if err != nil {
		t.Fatalf("Resolve bob: %v", err)
	}
	if !c.Has(PermProjectRead) {
		t.Fatal("member missing project:read")
	}
	if c.Has(PermTenantUpdate) {
		t.Fatal("member must not hold tenant:update")
	}

	// The code is single-use.
	if _, err := svc.Accept(ctx, "carol", inv.Code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on reused code, got %v", err)
	}
}

func TestAcceptRejectsExpiredInvite(t *testing.T) {
	store := NewInMemory()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	svc := NewService(store, WithServiceClock(func() time.Time { return clock }))
	ctx := context.Background()

	tn, err := svc.Create(ctx, "alice", "Acme", "acme")
	if err != nil {
		t.Fatal(err)
	}
	inv, err := svc.Invite(ctx, tn.ID, "alice", "bob@acme.test", "member")
	if err != nil {
		t.Fatal(err)
	}
	clock = now.Add(7*24*time.Hour + time.Second)
	if _, err := svc.Accept(ctx, "bob", inv.Code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired invite, got %v", err)
	}
}
