package tenant

import (
	"strings"
	"testing"
)

func TestTenantPermissionsExcludeOperatorSet(t *testing.T) {
	for _, p := range TenantPermissions() {
		if strings.HasPrefix(p, "sys:") {
			t.Fatalf("operator permission %q leaked into tenant catalog", p)
		}
	}
}

func TestSysPermissions(t *testing.T) {
	if got := SysPermissions(false, false); len(got) != 0 {
		t.Fatalf("plain account got operator grants: %v", got)
	}
	admin := SysPermissions(true, false)
	if len(admin) != 1 || admin[0] != PermSysLogsRead {
		t.Fatalf("admin grants: %v", admin)
	}
	super := SysPermissions(false, true)
	want := map[string]bool{PermSysLogsRead: true, PermSysUsersManage: true}
	if len(super) != len(want) {
		t.Fatalf("superadmin grants: %v", super)
	}
	for _, p := range super {
		if !want[p] {
			t.Fatalf("unexpected superadmin grant %q", p)
		}
	}
}
