package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                  "/",
		"/metrics":                          "/metrics",
		"/v1/auth/login":                    "/v1/auth/login",
		"/v1/tenants/01HXYZ/invites":        "/v1/tenants/:id/invites",
		"/v1/invites/abc-123/accept":        "/v1/invites/:code/accept",
		"/v1/auth/refresh?source=web":       "/v1/auth/refresh",
		"/v1/tenants/01HXYZ/invites?x=1":    "/v1/tenants/:id/invites",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
