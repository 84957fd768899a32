package auth

import (
	"context"
	"time"

	"authly.org/internal/obs"
)

const (
	maxFailedAttempts = 5
	lockDuration      = 30 * time.Minute
)

// Guard validates presented passwords and enforces the brute-force lockout
// policy. Every call mutates and persists credential state so the lockout
// survives process restarts and concurrent instances.
type Guard struct {
	store CredentialStore
	now   func() time.Time
}

// GuardOption configures Guard behavior.
type GuardOption func(*Guard)

// WithGuardClock overrides the time source (useful for tests).
func WithGuardClock(fn func() time.Time) GuardOption {
	return func(g *Guard) {
		if fn != nil {
			g.now = fn
		}
	}
}

// NewGuard constructs a Guard over the credential store.
func NewGuard(store CredentialStore, opts ...GuardOption) *Guard {
	g := &Guard{store: store, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AssertUsable fails with ErrAccountLocked while a lock is in effect. An
// elapsed lock is cleared lazily here, resetting the failure counter, so no
// explicit unlock call exists anywhere.
func (g *Guard) AssertUsable(ctx context.Context, cred *Credential) error {
	if cred == nil {
		return ErrInvalidCredentials
	}
	now := g.now()
	if cred.LockUntil != nil && !now.Before(*cred.LockUntil) {
		cred.LockUntil = nil
		cred.FailedAttempts = 0
		if err := g.store.Save(ctx, cred); err != nil {
			return err
		}
	}
	if cred.Locked(now) {
		return ErrAccountLocked
	}
	return nil
}

// Verify compares the presented secret against the stored hash. On mismatch
// the failure counter is incremented and, at the threshold, the account is
// locked; the caller still only sees ErrInvalidCredentials. On match all
// lockout state is cleared.
func (g *Guard) Verify(ctx context.Context, cred *Credential, presented string) error {
	if cred == nil || cred.PasswordHash == "" {
		// Identity-provider-only accounts have no local password and must
		// never authenticate through this path.
		return ErrInvalidCredentials
	}
	if err := VerifyPassword(cred.PasswordHash, presented); err != nil {
		cred.FailedAttempts++
		if cred.FailedAttempts >= maxFailedAttempts {
			until := g.now().Add(lockDuration)
			cred.LockUntil = &until
			obs.IncLockout()
		}
		if err := g.store.Save(ctx, cred); err != nil {
			return err
		}
		obs.IncLoginFailure()
		return ErrInvalidCredentials
	}
	cred.FailedAttempts = 0
	cred.LockUntil = nil
	if err := g.store.Save(ctx, cred); err != nil {
		return err
	}
	return nil
}
