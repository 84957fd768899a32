package auth

import "time"

// MFAMethod enumerates the supported second factors.
type MFAMethod string

const (
	MFANone  MFAMethod = ""
	MFATOTP  MFAMethod = "totp"
	MFAEmail MFAMethod = "email"
	MFASMS   MFAMethod = "sms"
)

// MFASettings is the per-account MFA configuration. Secret holds the TOTP
// enrollment secret (base32) and stays pending until Enabled is set by a
// successful confirmation. Short-lived email/SMS codes are stored separately
// as OneTimeCode records, never in this field.
type MFASettings struct {
	Method  MFAMethod
	Secret  string
	Enabled bool
}

// Credential is the durable security state of one account.
type Credential struct {
	ID       string
	Username string
	Email    string
	Phone    string

	// PasswordHash is empty for identity-provider-only accounts.
	PasswordHash string

	FailedAttempts int
	LockUntil      *time.Time

	MFA MFASettings
	// BackupCodes holds sha256 hex digests of unused one-time codes.
	// The set only shrinks: a consumed code is removed immediately.
	BackupCodes []string

	IsAdmin      bool
	IsSuperAdmin bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Locked reports whether the credential is locked as of the given instant.
func (c *Credential) Locked(now time.Time) bool {
	return c.LockUntil != nil && now.Before(*c.LockUntil)
}

// PasswordReset is a single-use password recovery record. Only the sha256
// hex of the raw token is stored.
type PasswordReset struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// OneTimeCode is a short-lived out-of-band MFA code (email or SMS flows).
// Kept separate from the long-lived TOTP enrollment secret.
type OneTimeCode struct {
	ID        string
	UserID    string
	Method    MFAMethod
	CodeHash  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Principal is the authenticated identity attached to a request. Immutable
// for the lifetime of the request.
type Principal struct {
	UserID       string
	IsAdmin      bool
	IsSuperAdmin bool
}
