package auth

import (
	"context"
	"time"
)

// CredentialStore describes persistence for account security state. Save
// must be atomic per record: lockout counters and MFA transitions rely on
// the store's conditional-update semantics rather than in-process locks.
type CredentialStore interface {
	Create(ctx context.Context, c *Credential) error
	Find(ctx context.Context, id string) (*Credential, error)
	FindByUsernameOrEmail(ctx context.Context, identifier string) (*Credential, error)
	Save(ctx context.Context, c *Credential) error

	// ConsumeBackupCode removes the code hash from the account's set in a
	// single conditional operation. Returns false when the hash was not
	// present (already used or never issued).
	ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error)
}

// PasswordResetStore manages single-use recovery records. Expired rows are
// treated as absent whether or not they were physically purged.
type PasswordResetStore interface {
	Create(ctx context.Context, pr *PasswordReset) error
	FindActive(ctx context.Context, userID, tokenHash string, now time.Time) (*PasswordReset, error)
	MarkUsed(ctx context.Context, id string) error
}

// OneTimeCodeStore manages short-lived email/SMS MFA codes. Replace drops
// any previous pending code for the (user, method) pair; Consume deletes
// the matching unexpired code in one conditional operation.
type OneTimeCodeStore interface {
	Replace(ctx context.Context, code *OneTimeCode) error
	Consume(ctx context.Context, userID string, method MFAMethod, codeHash string, now time.Time) (bool, error)
}
