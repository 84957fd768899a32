package httpapi

import (
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "plain", header: "Bearer abc.def.ghi", want: "abc.def.ghi"},
		{name: "lowercase scheme", header: "bearer abc", want: "abc"},
		{name: "padded", header: "  Bearer abc  ", want: "abc"},
		{name: "empty", header: "", wantErr: true},
		{name: "wrong scheme", header: "Basic abc", wantErr: true},
		{name: "scheme only", header: "Bearer ", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := extractBearerToken(tc.header)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestIsPublicPath(t *testing.T) {
	public := []string{"/v1/auth/login", "/v1/auth/register", "/metrics", "/healthz", "/"}
	for _, p := range public {
		if !isPublicPath(p) {
			t.Errorf("%s should be public", p)
		}
	}
	private := []string{"/v1/me", "/v1/auth/logout", "/v1/tenants", "/v1/events", "/v1/auth/login/x"}
	for _, p := range private {
		if isPublicPath(p) {
			t.Errorf("%s should require authentication", p)
		}
	}
}
