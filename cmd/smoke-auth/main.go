package main

import (
	"context"
	"errors"
	"log"
	"time"

	"authly.org/internal/auth"
	"authly.org/internal/notify"
	"authly.org/internal/token"
)

// In-process smoke run over the in-memory stores: register, log in,
// rotate, then prove that reuse of a retired refresh token kills the
// session family. Exits non-zero on any deviation.
func main() {
	log.SetFlags(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	creds := auth.NewInMemory()
	accounts := auth.NewService(creds, auth.NewInMemoryResets(), notify.LogSink{})
	guard := auth.NewGuard(creds)
	recs := token.NewInMemory()
	manager := token.NewManager(recs, "smoke-access", "smoke-refresh")

	cred, err := accounts.Register(ctx, "smoke", "smoke@example.test", "", "smoke-pass-1")
	if err != nil {
		log.Fatalf("register: %v", err)
	}
	if err := guard.Verify(ctx, cred, "smoke-pass-1"); err != nil {
		log.Fatalf("verify password: %v", err)
	}

	principal := auth.Principal{UserID: cred.ID}
	meta := token.ClientMeta{IP: "127.0.0.1", UserAgent: "smoke-auth"}

	pair, err := manager.Issue(ctx, principal, meta)
	if err != nil {
		log.Fatalf("issue: %v", err)
	}
	if _, err := manager.VerifyAccess(pair.AccessToken); err != nil {
		log.Fatalf("verify access: %v", err)
	}

	next, err := manager.Rotate(ctx, pair.RefreshToken, meta)
	if err != nil {
		log.Fatalf("rotate: %v", err)
	}

	if _, err := manager.Rotate(ctx, pair.RefreshToken, meta); !errors.Is(err, token.ErrRefreshInvalid) {
		log.Fatalf("reuse of retired token must fail, got %v", err)
	}
	if _, err := manager.Rotate(ctx, next.RefreshToken, meta); !errors.Is(err, token.ErrRefreshInvalid) {
		log.Fatalf("successor must be dead after reuse, got %v", err)
	}
	if n := recs.LiveCount(cred.ID); n != 0 {
		log.Fatalf("expected zero live sessions after reuse, got %d", n)
	}

	// Lockout: five mismatches lock the account, the right password included.
	for i := 0; i < 5; i++ {
		if err := guard.Verify(ctx, cred, "wrong"); !errors.Is(err, auth.ErrInvalidCredentials) {
			log.Fatalf("mismatch %d: %v", i, err)
		}
	}
	if err := guard.AssertUsable(ctx, cred); !errors.Is(err, auth.ErrAccountLocked) {
		log.Fatalf("expected lock after repeated failures, got %v", err)
	}

	log.Println("SMOKE OK: rotation, reuse detection and lockout behave")
}
