package mfa

import (
	"strings"
	"testing"
	"time"
)

func TestTOTPWindow(t *testing.T) {
	totp := NewTOTP("Authly")
	secret, err := totp.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 0, 15, 0, time.UTC)

	cases := []struct {
		name   string
		offset time.Duration
		want   bool
	}{
		{"current step", 0, true},
		{"previous step", -30 * time.Second, true},
		{"next step", 30 * time.Second, true},
		{"two steps back", -60 * time.Second, false},
		{"two steps forward", 60 * time.Second, false},
		{"five minutes back", -5 * time.Minute, false},
	}
	for _, tc := range cases {
		code, err := totp.CodeAt(secret, now.Add(tc.offset))
		if err != nil {
			t.Fatalf("%s: CodeAt: %v", tc.name, err)
		}
		if got := totp.Verify(secret, code, now); got != tc.want {
			t.Fatalf("%s: Verify=%v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestTOTPRejectsMalformedCodes(t *testing.T) {
	totp := NewTOTP("Authly")
	secret, err := totp.GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	for _, code := range []string{"", "12345", "1234567", "12345a", "abcdef"} {
		if totp.Verify(secret, code, now) {
			t.Fatalf("malformed code %q accepted", code)
		}
	}
	if totp.Verify("not-base32!!", "123456", now) {
		t.Fatal("invalid secret accepted")
	}
}

func TestSecretEntropyAndEncoding(t *testing.T) {
	totp := NewTOTP("Authly")
	a, err := totp.GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}
	b, err := totp.GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("secrets are not random")
	}
	// 20 bytes -> 32 base32 characters without padding.
	if len(a) != 32 {
		t.Fatalf("secret length=%d, want 32", len(a))
	}
}

func TestProvisioningURI(t *testing.T) {
	totp := NewTOTP("Authly")
	uri := totp.ProvisioningURI("SECRETSECRETSECRET", "alice@example.test")
	if !strings.HasPrefix(uri, "otpauth://totp/Authly:alice@example.test?") {
		t.Fatalf("unexpected uri prefix: %s", uri)
	}
	for _, want := range []string{"secret=SECRETSECRETSECRET", "issuer=Authly", "period=30", "digits=6"} {
		if !strings.Contains(uri, want) {
			t.Fatalf("uri missing %q: %s", want, uri)
		}
	}
}
