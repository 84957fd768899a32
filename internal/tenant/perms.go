package tenant

import "strings"

// Permission catalog. Tenant-scoped permissions gate operations inside one
// tenant; sys:* permissions belong to platform operators and are never
// seeded into tenant roles.
const (
	PermSysLogsRead    = "sys:logs:read"
	PermSysUsersManage = "sys:users:manage"

	PermTenantRead   = "tenant:read"
	PermTenantUpdate = "tenant:update"

	PermMembersInvite = "members:invite"
	PermMembersRead   = "members:read"
	PermMembersUpdate = "members:update"
	PermMembersRemove = "members:remove"

	PermRolesRead   = "roles:read"
	PermRolesUpdate = "roles:update"

	PermProjectRead   = "project:read"
	PermProjectCreate = "project:create"
	PermProjectUpdate = "project:update"
	PermProjectDelete = "project:delete"

	PermLogsRead = "logs:read"
)

var allPerms = []string{
	PermSysLogsRead,
	PermSysUsersManage,
	PermTenantRead,
	PermTenantUpdate,
	PermMembersInvite,
	PermMembersRead,
	PermMembersUpdate,
	PermMembersRemove,
	PermRolesRead,
	PermRolesUpdate,
	PermProjectRead,
	PermProjectCreate,
	PermProjectUpdate,
	PermProjectDelete,
	PermLogsRead,
}

// TenantPermissions returns every permission that may appear in a tenant
// role, excluding the sys:* operator set.
func TenantPermissions() []string {
	out := make([]string, 0, len(allPerms))
	for _, p := range allPerms {
		if strings.HasPrefix(p, "sys:") {
			continue
		}
		out = append(out, p)
	}
	return out
}

// SysPermissions returns the operator grants carried by account flags.
// Superadmins hold the full sys set; admins may read the security event
// stream. These grants never appear in tenant roles.
func SysPermissions(isAdmin, isSuperAdmin bool) []string {
	switch {
	case isSuperAdmin:
		return []string{PermSysLogsRead, PermSysUsersManage}
	case isAdmin:
		return []string{PermSysLogsRead}
	default:
		return nil
	}
}

// seedRole is a default role definition applied to every new tenant.
type seedRole struct {
	Key         string
	Name        string
	Permissions []string
}

func defaultRoles() []seedRole {
	return []seedRole{
		{Key: "owner", Name: "Owner", Permissions: TenantPermissions()},
		{Key: "admin", Name: "Admin", Permissions: []string{
			PermTenantRead,
			PermTenantUpdate,
			PermMembersInvite,
			PermMembersRead,
			PermMembersUpdate,
			PermMembersRemove,
			PermRolesRead,
			PermRolesUpdate,
			PermProjectRead,
			PermProjectCreate,
			PermProjectUpdate,
			PermProjectDelete,
			PermLogsRead,
		}},
		{Key: "member", Name: "Member", Permissions: []string{
			PermProjectRead,
			PermProjectCreate,
			PermProjectUpdate,
		}},
		{Key: "viewer", Name: "Viewer", Permissions: []string{
			PermProjectRead,
		}},
	}
}
