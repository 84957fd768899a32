package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InMemory implements CredentialStore with a process-local map. Used by
// tests and DSN-less runs.
type InMemory struct {
	mu    sync.Mutex
	creds map[string]*Credential
}

var _ CredentialStore = (*InMemory)(nil)

// NewInMemory returns an empty in-memory credential store.
func NewInMemory() *InMemory {
	return &InMemory{creds: make(map[string]*Credential)}
}

func copyCredential(c *Credential) *Credential {
	cp := *c
	if c.LockUntil != nil {
		t := *c.LockUntil
		cp.LockUntil = &t
	}
	cp.BackupCodes = append([]string(nil), c.BackupCodes...)
	return &cp
}

func (m *InMemory) Create(ctx context.Context, c *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.creds {
		if existing.Username == c.Username || existing.Email == c.Email {
			return ErrAlreadyExists
		}
	}
	m.creds[c.ID] = copyCredential(c)
	return nil
}

func (m *InMemory) Find(ctx context.Context, id string) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyCredential(c), nil
}

func (m *InMemory) FindByUsernameOrEmail(ctx context.Context, identifier string) (*Credential, error) {
	identifier = strings.ToLower(identifier)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.creds {
		if c.Username == identifier || c.Email == identifier {
			return copyCredential(c), nil
		}
	}
	return nil, ErrNotFound
}

func (m *InMemory) Save(ctx context.Context, c *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.creds[c.ID]; !ok {
		return ErrNotFound
	}
	c.UpdatedAt = time.Now().UTC()
	m.creds[c.ID] = copyCredential(c)
	return nil
}

func (m *InMemory) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[userID]
	if !ok {
		return false, ErrNotFound
	}
	for i, h := range c.BackupCodes {
		if h == codeHash {
			c.BackupCodes = append(c.BackupCodes[:i], c.BackupCodes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// InMemoryResets implements PasswordResetStore.
type InMemoryResets struct {
	mu     sync.Mutex
	resets map[string]*PasswordReset
}

var _ PasswordResetStore = (*InMemoryResets)(nil)

// NewInMemoryResets returns an empty in-memory reset store.
func NewInMemoryResets() *InMemoryResets {
	return &InMemoryResets{resets: make(map[string]*PasswordReset)}
}

func (m *InMemoryResets) Create(ctx context.Context, pr *PasswordReset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *pr
	m.resets[pr.ID] = &cp
	return nil
}

func (m *InMemoryResets) FindActive(ctx context.Context, userID, tokenHash string, now time.Time) (*PasswordReset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pr := range m.resets {
		if pr.UserID == userID && pr.TokenHash == tokenHash && !pr.Used && now.Before(pr.ExpiresAt) {
			cp := *pr
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *InMemoryResets) MarkUsed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.resets[id]
	if !ok {
		return ErrNotFound
	}
	pr.Used = true
	return nil
}

// InMemoryCodes implements OneTimeCodeStore.
type InMemoryCodes struct {
	mu    sync.Mutex
	codes map[string]*OneTimeCode // keyed by userID+"/"+method
}

var _ OneTimeCodeStore = (*InMemoryCodes)(nil)

// NewInMemoryCodes returns an empty in-memory one-time-code store.
func NewInMemoryCodes() *InMemoryCodes {
	return &InMemoryCodes{codes: make(map[string]*OneTimeCode)}
}

func (m *InMemoryCodes) Replace(ctx context.Context, code *OneTimeCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *code
	m.codes[code.UserID+"/"+string(code.Method)] = &cp
	return nil
}

func (m *InMemoryCodes) Consume(ctx context.Context, userID string, method MFAMethod, codeHash string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + "/" + string(method)
	c, ok := m.codes[key]
	if !ok || c.CodeHash != codeHash || !now.Before(c.ExpiresAt) {
		return false, nil
	}
	delete(m.codes, key)
	return true, nil
}
