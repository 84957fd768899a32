package mfa

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"authly.org/internal/auth"
	"authly.org/internal/ids"
	"authly.org/internal/notify"
	"authly.org/internal/obs"
)

const (
	backupCodeCount = 8
	backupCodeBytes = 5 // 8 base32 characters

	oneTimeCodeTTL = 10 * time.Minute
)

var (
	// ErrRequired is returned when an enabled account presents no proof.
	ErrRequired = errors.New("mfa: proof required")

	// ErrInvalidProof covers every mismatch: wrong TOTP code, wrong or
	// already-consumed backup code, wrong or expired one-time code.
	ErrInvalidProof = errors.New("mfa: invalid proof")

	// ErrUnsupportedMethod is returned for an unknown enrollment method.
	ErrUnsupportedMethod = errors.New("mfa: unsupported method")
)

// Engine manages multi-factor enrollment and verification. Account state
// moves Disabled -> Enrolling(method) -> Enabled(method); the pending
// secret only becomes active after a successful Confirm.
type Engine struct {
	creds auth.CredentialStore
	codes auth.OneTimeCodeStore
	sink  notify.Sink
	totp  *TOTP
	now   func() time.Time
}

// EngineOption configures Engine behavior.
type EngineOption func(*Engine)

// WithEngineClock overrides the time source (useful for tests).
func WithEngineClock(fn func() time.Time) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewEngine constructs the MFA engine.
func NewEngine(creds auth.CredentialStore, codes auth.OneTimeCodeStore, sink notify.Sink, totp *TOTP, opts ...EngineOption) *Engine {
	e := &Engine{creds: creds, codes: codes, sink: sink, totp: totp, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrollment is returned from Enroll. BackupCodes and the TOTP secret are
// shown exactly once; only hashes are persisted.
type Enrollment struct {
	Method          auth.MFAMethod
	Secret          string
	ProvisioningURI string
	BackupCodes     []string
}

// Enroll begins enrollment for the given method. For TOTP it generates the
// shared secret, provisioning URI and single-use backup codes. For email
// and SMS it issues a short numeric code and delivers it through the sink.
func (e *Engine) Enroll(ctx context.Context, cred *auth.Credential, method auth.MFAMethod) (*Enrollment, error) {
	switch method {
	case auth.MFATOTP:
		secret, err := e.totp.GenerateSecret()
		if err != nil {
			return nil, err
		}
		raw, hashed, err := generateBackupCodes()
		if err != nil {
			return nil, err
		}
		cred.MFA = auth.MFASettings{Method: auth.MFATOTP, Secret: secret, Enabled: false}
		cred.BackupCodes = hashed
		if err := e.creds.Save(ctx, cred); err != nil {
			return nil, err
		}
		account := cred.Email
		if account == "" {
			account = cred.Username
		}
		return &Enrollment{
			Method:          auth.MFATOTP,
			Secret:          secret,
			ProvisioningURI: e.totp.ProvisioningURI(secret, account),
			BackupCodes:     raw,
		}, nil

	case auth.MFAEmail, auth.MFASMS:
		cred.MFA = auth.MFASettings{Method: method, Enabled: false}
		if err := e.creds.Save(ctx, cred); err != nil {
			return nil, err
		}
		if err := e.issueOneTimeCode(ctx, cred, method); err != nil {
			return nil, err
		}
		return &Enrollment{Method: method}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
}

// Confirm verifies the proof against the pending secret and enables MFA.
func (e *Engine) Confirm(ctx context.Context, cred *auth.Credential, proof string) error {
	if err := e.verifyProof(ctx, cred, proof); err != nil {
		return err
	}
	cred.MFA.Enabled = true
	return e.creds.Save(ctx, cred)
}

// Challenge delivers a fresh one-time code for enabled email/SMS accounts.
// No-op for TOTP, whose codes are generated client-side.
func (e *Engine) Challenge(ctx context.Context, cred *auth.Credential) error {
	if !cred.MFA.Enabled {
		return nil
	}
	switch cred.MFA.Method {
	case auth.MFAEmail, auth.MFASMS:
		return e.issueOneTimeCode(ctx, cred, cred.MFA.Method)
	}
	return nil
}

// VerifyLogin checks the second factor during login. A presented backup
// code is consumed on match and bypasses the primary proof; the consumed
// code can never succeed again.
func (e *Engine) VerifyLogin(ctx context.Context, cred *auth.Credential, proof, backupCode string) error {
	if !cred.MFA.Enabled {
		return nil
	}
	if backupCode != "" {
		sum := sha256.Sum256([]byte(backupCode))
		ok, err := e.creds.ConsumeBackupCode(ctx, cred.ID, hex.EncodeToString(sum[:]))
		if err != nil {
			return err
		}
		if !ok {
			obs.IncMFAFailure()
			return ErrInvalidProof
		}
		return nil
	}
	if proof == "" {
		return ErrRequired
	}
	return e.verifyProof(ctx, cred, proof)
}

func (e *Engine) verifyProof(ctx context.Context, cred *auth.Credential, proof string) error {
	switch cred.MFA.Method {
	case auth.MFATOTP:
		if cred.MFA.Secret == "" {
			return ErrInvalidProof
		}
		if !e.totp.Verify(cred.MFA.Secret, proof, e.now()) {
			obs.IncMFAFailure()
			return ErrInvalidProof
		}
		return nil

	case auth.MFAEmail, auth.MFASMS:
		sum := sha256.Sum256([]byte(proof))
		ok, err := e.codes.Consume(ctx, cred.ID, cred.MFA.Method, hex.EncodeToString(sum[:]), e.now())
		if err != nil {
			return err
		}
		if !ok {
			obs.IncMFAFailure()
			return ErrInvalidProof
		}
		return nil

	default:
		return ErrInvalidProof
	}
}

func (e *Engine) issueOneTimeCode(ctx context.Context, cred *auth.Credential, method auth.MFAMethod) error {
	code, err := numericCode(6)
	if err != nil {
		return err
	}
	sum := sha256.Sum256([]byte(code))
	now := e.now().UTC()
	rec := &auth.OneTimeCode{
		ID:        ids.New(),
		UserID:    cred.ID,
		Method:    method,
		CodeHash:  hex.EncodeToString(sum[:]),
		ExpiresAt: now.Add(oneTimeCodeTTL),
		CreatedAt: now,
	}
	if err := e.codes.Replace(ctx, rec); err != nil {
		return err
	}
	switch method {
	case auth.MFAEmail:
		if err := e.sink.SendEmail(ctx, cred.Email, "Your verification code", "Your code: "+code); err != nil {
			obs.Log(map[string]any{"level": "error", "msg": "mfa mail failed", "user_id": cred.ID})
		}
	case auth.MFASMS:
		if err := e.sink.SendSMS(ctx, cred.Phone, "Your code: "+code); err != nil {
			obs.Log(map[string]any{"level": "error", "msg": "mfa sms failed", "user_id": cred.ID})
		}
	}
	return nil
}

func generateBackupCodes() (raw []string, hashed []string, err error) {
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	for i := 0; i < backupCodeCount; i++ {
		buf := make([]byte, backupCodeBytes)
		if _, err := rand.Read(buf); err != nil {
			return nil, nil, err
		}
		code := enc.EncodeToString(buf)
		sum := sha256.Sum256([]byte(code))
		raw = append(raw, code)
		hashed = append(hashed, hex.EncodeToString(sum[:]))
	}
	return raw, hashed, nil
}

func numericCode(digits int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
