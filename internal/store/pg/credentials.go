package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"authly.org/internal/auth"
)

// Credentials is the Postgres-backed auth.CredentialStore.
type Credentials struct{ db *sql.DB }

// Resets is the Postgres-backed auth.PasswordResetStore.
type Resets struct{ db *sql.DB }

// Codes is the Postgres-backed auth.OneTimeCodeStore.
type Codes struct{ db *sql.DB }

var (
	_ auth.CredentialStore    = (*Credentials)(nil)
	_ auth.PasswordResetStore = (*Resets)(nil)
	_ auth.OneTimeCodeStore   = (*Codes)(nil)
)

// Credentials returns the credential repository bound to the pool.
func (s *Store) Credentials() *Credentials { return &Credentials{db: s.db} }

// Resets returns the password-reset repository bound to the pool.
func (s *Store) Resets() *Resets { return &Resets{db: s.db} }

// Codes returns the one-time-code repository bound to the pool.
func (s *Store) Codes() *Codes { return &Codes{db: s.db} }

const credentialColumns = `id, username, email, phone, password_hash, failed_attempts, lock_until,
	mfa_method, mfa_secret, mfa_enabled, backup_codes, is_admin, is_superadmin, created_at, updated_at`

func (r *Credentials) Create(ctx context.Context, c *auth.Credential) error {
	codes, err := json.Marshal(c.BackupCodes)
	if err != nil {
		return fmt.Errorf("marshal backup codes: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		insert into credentials (`+credentialColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, c.ID, c.Username, c.Email, c.Phone, c.PasswordHash, c.FailedAttempts, nullIfZero(c.LockUntil),
		string(c.MFA.Method), c.MFA.Secret, c.MFA.Enabled, codes, c.IsAdmin, c.IsSuperAdmin,
		c.CreatedAt, c.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return auth.ErrAlreadyExists
	}
	return err
}

func (r *Credentials) Find(ctx context.Context, id string) (*auth.Credential, error) {
	row := r.db.QueryRowContext(ctx, `select `+credentialColumns+` from credentials where id = $1`, id)
	return scanCredential(row)
}

func (r *Credentials) FindByUsernameOrEmail(ctx context.Context, identifier string) (*auth.Credential, error) {
	row := r.db.QueryRowContext(ctx, `
		select `+credentialColumns+` from credentials
		where username = $1 or email = $1
	`, identifier)
	return scanCredential(row)
}

func (r *Credentials) Save(ctx context.Context, c *auth.Credential) error {
	codes, err := json.Marshal(c.BackupCodes)
	if err != nil {
		return fmt.Errorf("marshal backup codes: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		update credentials set
			username = $2, email = $3, phone = $4, password_hash = $5,
			failed_attempts = $6, lock_until = $7,
			mfa_method = $8, mfa_secret = $9, mfa_enabled = $10, backup_codes = $11,
			is_admin = $12, is_superadmin = $13, updated_at = $14
		where id = $1
	`, c.ID, c.Username, c.Email, c.Phone, c.PasswordHash, c.FailedAttempts, nullIfZero(c.LockUntil),
		string(c.MFA.Method), c.MFA.Secret, c.MFA.Enabled, codes, c.IsAdmin, c.IsSuperAdmin, c.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrAlreadyExists
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// ConsumeBackupCode removes the hash from the account's jsonb set only when
// it is still present; the single conditional update makes the code
// single-use under concurrency.
func (r *Credentials) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		update credentials
		set backup_codes = backup_codes - $2, updated_at = now()
		where id = $1 and backup_codes ? $2
	`, userID, codeHash)
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff == 1, nil
}

func scanCredential(row *sql.Row) (*auth.Credential, error) {
	var (
		c         auth.Credential
		method    string
		lockUntil sql.NullTime
		rawCodes  []byte
	)
	err := row.Scan(&c.ID, &c.Username, &c.Email, &c.Phone, &c.PasswordHash, &c.FailedAttempts,
		&lockUntil, &method, &c.MFA.Secret, &c.MFA.Enabled, &rawCodes, &c.IsAdmin, &c.IsSuperAdmin,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.MFA.Method = auth.MFAMethod(method)
	if lockUntil.Valid {
		t := lockUntil.Time
		c.LockUntil = &t
	}
	if len(rawCodes) > 0 {
		if err := json.Unmarshal(rawCodes, &c.BackupCodes); err != nil {
			return nil, fmt.Errorf("decode backup codes: %w", err)
		}
	}
	return &c, nil
}

func (r *Resets) Create(ctx context.Context, pr *auth.PasswordReset) error {
	_, err := r.db.ExecContext(ctx, `
		insert into password_resets (id, user_id, token_hash, expires_at, created_at)
		values ($1, $2, $3, $4, $5)
	`, pr.ID, pr.UserID, pr.TokenHash, pr.ExpiresAt, pr.CreatedAt)
	return err
}

func (r *Resets) FindActive(ctx context.Context, userID, tokenHash string, now time.Time) (*auth.PasswordReset, error) {
	var pr auth.PasswordReset
	var usedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, expires_at, used_at, created_at
		from password_resets
		where user_id = $1 and token_hash = $2 and used_at is null and expires_at > $3
	`, userID, tokenHash, now).Scan(&pr.ID, &pr.UserID, &pr.TokenHash, &pr.ExpiresAt, &usedAt, &pr.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	pr.Used = usedAt.Valid
	return &pr, nil
}

func (r *Resets) MarkUsed(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		update password_resets set used_at = now() where id = $1 and used_at is null
	`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (r *Codes) Replace(ctx context.Context, code *auth.OneTimeCode) error {
	_, err := r.db.ExecContext(ctx, `
		insert into one_time_codes (user_id, method, code_hash, expires_at, created_at)
		values ($1, $2, $3, $4, $5)
		on conflict (user_id, method) do update
		set code_hash = excluded.code_hash,
		    expires_at = excluded.expires_at,
		    created_at = excluded.created_at
	`, code.UserID, string(code.Method), code.CodeHash, code.ExpiresAt, code.CreatedAt)
	return err
}

// Consume deletes the matching unexpired code in one statement so a code
// verifies at most once.
func (r *Codes) Consume(ctx context.Context, userID string, method auth.MFAMethod, codeHash string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		delete from one_time_codes
		where user_id = $1 and method = $2 and code_hash = $3 and expires_at > $4
	`, userID, string(method), codeHash, now)
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff == 1, nil
}
