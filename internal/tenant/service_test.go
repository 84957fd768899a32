package tenant

import (
	"context"
	"errors"
	"testing"
)

func TestCreateValidatesSlug(t *testing.T) {
	svc := NewService(NewInMemory())
	ctx := context.Background()

	cases := []struct {
		name string
		slug string
	}{
		{"too short", "a"},
		{"uppercase", "Acme"},
		{"spaces", "ac me"},
		{"leading hyphen", "-acme"},
		{"trailing hyphen", "acme-"},
		{"hyphen both ends", "-a-"},
		{"reserved admin", "admin"},
		{"reserved api", "api"},
		{"reserved www", "www"},
		{"reserved root", "root"},
		{"reserved system", "system"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, "u1", "Some Name", tc.slug); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("slug %q: expected ErrInvalidInput, got %v", tc.slug, err)
			}
		})
	}
}

func TestCreateDerivesSlugFromName(t *testing.T) {
	svc := NewService(NewInMemory())
	tn, err := svc.Create(context.Background(), "u1", "Acme Rockets, Ltd.", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tn.Slug != "acme-rockets-ltd" {
		t.Fatalf("slug=%q", tn.Slug)
	}
}

func TestCreateRejectsDuplicateSlug(t *testing.T) {
	svc := NewService(NewInMemory())
	ctx := context.Background()
	if _, err := svc.Create(ctx, "u1", "Acme", "acme"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create(ctx, "u2", "Acme Again", "acme"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestCreateSeedsDefaultRoles(t *testing.T) {
	store := NewInMemory()
	svc := NewService(store)
	ctx := context.Background()
	tn, err := svc.Create(ctx, "u1", "Acme", "acme")
	if err != nil {
		t.Fatal(err)
	}
	roles, err := svc.Roles(ctx, tn.ID)
	if err != nil {
		t.Fatal(err)
	}
	byKey := make(map[string]*Role, len(roles))
	for _, r := range roles {
		byKey[r.Key] = r
	}
	for _, key := range []string{"owner", "admin", "member", "viewer"} {
		if byKey[key] == nil {
			t.Fatalf("role %q not seeded", key)
		}
	}
	if !byKey["admin"].Has(PermMembersInvite) {
		t.Fatal("admin missing members:invite")
	}
	if byKey["member"].Has(PermMembersInvite) {
		t.Fatal("member must not hold members:invite")
	}
	if len(byKey["viewer"].Permissions) != 1 || !byKey["viewer"].Has(PermProjectRead) {
		t.Fatalf("viewer permissions=%v", byKey["viewer"].Permissions)
	}
}

func TestInviteRequiresTenantScopedRole(t *testing.T) {
	store := NewInMemory()
	svc := NewService(store)
	ctx := context.Background()
	tn, err := svc.Create(ctx, "u1", "Acme", "acme")
	if err != nil {
		t.Fatal(err)
	}
	other, err := svc.Create(ctx, "u2", "Globex", "globex")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Invite(ctx, tn.ID, "u1", "x@acme.test", "nope"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown role, got %v", err)
	}

	// A role key resolves inside the selected tenant only; both tenants
	// have a "member" role but the invite binds to the right one.
	inv, err := svc.Invite(ctx, tn.ID, "u1", "x@acme.test", "member")
	if err != nil {
		t.Fatal(err)
	}
	role, err := store.FindRole(ctx, tn.ID, inv.RoleID)
	if err != nil {
		t.Fatalf("invite role not in tenant: %v", err)
	}
	if role.TenantID == other.ID {
		t.Fatal("invite bound to foreign tenant role")
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Acme":              "acme",
		"Acme Rockets":      "acme-rockets",
		"  Spaced  Out  ":   "spaced--out",
		"Weird!@#Chars":     "weirdchars",
		"already-slugged-1": "already-slugged-1",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q)=%q, want %q", in, got, want)
		}
	}
}
