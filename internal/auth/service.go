package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"authly.org/internal/ids"
	"authly.org/internal/notify"
	"authly.org/internal/obs"
)

const (
	usernameMin = 3
	usernameMax = 64

	resetTTL = time.Hour
)

// Service implements account lifecycle operations around the credential
// store: registration, password recovery and lookup.
type Service struct {
	creds  CredentialStore
	resets PasswordResetStore
	sink   notify.Sink
	now    func() time.Time

	resetBaseURL string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithServiceClock overrides the time source (useful for tests).
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithResetBaseURL sets the base URL embedded in reset emails.
func WithResetBaseURL(u string) ServiceOption {
	return func(s *Service) {
		if u != "" {
			s.resetBaseURL = strings.TrimRight(u, "/")
		}
	}
}

// NewService constructs the account service.
func NewService(creds CredentialStore, resets PasswordResetStore, sink notify.Sink, opts ...ServiceOption) *Service {
	s := &Service{
		creds:        creds,
		resets:       resets,
		sink:         sink,
		now:          time.Now,
		resetBaseURL: "http://localhost:8080/auth/reset",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a local account with a hashed password. Identifiers are
// lowercased; username and email must be unused.
func (s *Service) Register(ctx context.Context, username, email, phone, password string) (*Credential, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	email = strings.TrimSpace(strings.ToLower(email))
	phone = strings.TrimSpace(phone)
	if len(username) < usernameMin || len(username) > usernameMax {
		return nil, fmt.Errorf("%w: username must be %d-%d characters", ErrInvalidInput, usernameMin, usernameMax)
	}
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	if _, err := s.creds.FindByUsernameOrEmail(ctx, username); err == nil {
		return nil, ErrAlreadyExists
	}
	if _, err := s.creds.FindByUsernameOrEmail(ctx, email); err == nil {
		return nil, ErrAlreadyExists
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	cred := &Credential{
		ID:           ids.New(),
		Username:     username,
		Email:        email,
		Phone:        phone,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.creds.Create(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// Find loads a credential by id.
func (s *Service) Find(ctx context.Context, id string) (*Credential, error) {
	return s.creds.Find(ctx, id)
}

// FindByUsernameOrEmail loads a credential by either identifier, lowercased.
func (s *Service) FindByUsernameOrEmail(ctx context.Context, identifier string) (*Credential, error) {
	identifier = strings.TrimSpace(strings.ToLower(identifier))
	if identifier == "" {
		return nil, ErrNotFound
	}
	return s.creds.FindByUsernameOrEmail(ctx, identifier)
}

// Forgot starts password recovery. The response never distinguishes "no
// such account" from "mail sent" so the endpoint cannot be used to
// enumerate accounts. Mail failures are logged and swallowed.
func (s *Service) Forgot(ctx context.Context, email string) error {
	cred, err := s.creds.FindByUsernameOrEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if err != nil {
		return nil
	}
	raw := uuid.NewString()
	sum := sha256.Sum256([]byte(raw))
	now := s.now().UTC()
	pr := &PasswordReset{
		ID:        ids.New(),
		UserID:    cred.ID,
		TokenHash: hex.EncodeToString(sum[:]),
		ExpiresAt: now.Add(resetTTL),
		CreatedAt: now,
	}
	if err := s.resets.Create(ctx, pr); err != nil {
		return err
	}
	link := fmt.Sprintf("%s?token=%s&uid=%s", s.resetBaseURL, raw, cred.ID)
	if err := s.sink.SendEmail(ctx, cred.Email, "Password reset", "Reset your password: "+link); err != nil {
		obs.Log(map[string]any{"level": "error", "msg": "reset mail failed", "user_id": cred.ID})
	}
	return nil
}

// Reset consumes a recovery token and replaces the password. The record is
// single use and must be unexpired.
func (s *Service) Reset(ctx context.Context, userID, rawToken, newPassword string) error {
	if userID == "" || rawToken == "" || newPassword == "" {
		return fmt.Errorf("%w: uid, token and password are required", ErrInvalidInput)
	}
	sum := sha256.Sum256([]byte(rawToken))
	pr, err := s.resets.FindActive(ctx, userID, hex.EncodeToString(sum[:]), s.now())
	if err != nil {
		return ErrNotFound
	}
	cred, err := s.creds.Find(ctx, userID)
	if err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	cred.PasswordHash = hash
	cred.FailedAttempts = 0
	cred.LockUntil = nil
	if err := s.creds.Save(ctx, cred); err != nil {
		return err
	}
	return s.resets.MarkUsed(ctx, pr.ID)
}
