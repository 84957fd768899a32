package token

import (
	"context"
	"sync"
)

// InMemory implements RefreshTokenStore with a process-local map. The
// mutex gives MarkRotated the same winner-takes-all semantics a SQL
// conditional update provides.
type InMemory struct {
	mu   sync.Mutex
	recs map[string]*RefreshTokenRecord
}

var _ RefreshTokenStore = (*InMemory)(nil)

// NewInMemory returns an empty in-memory refresh-token store.
func NewInMemory() *InMemory {
	return &InMemory{recs: make(map[string]*RefreshTokenRecord)}
}

func (m *InMemory) Create(ctx context.Context, rec *RefreshTokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.recs[rec.JTI] = &cp
	return nil
}

func (m *InMemory) FindByJTI(ctx context.Context, jti string) (*RefreshTokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[jti]
	if !ok {
		return nil, ErrRefreshInvalid
	}
	cp := *rec
	return &cp, nil
}

func (m *InMemory) MarkRotated(ctx context.Context, jti, tokenHash, replacedBy string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[jti]
	if !ok || rec.State != StateLive || rec.TokenHash != tokenHash {
		return false, nil
	}
	rec.State = StateRotated
	rec.ReplacedBy = replacedBy
	return true, nil
}

func (m *InMemory) Revoke(ctx context.Context, jti string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.recs[jti]; ok {
		rec.State = StateRevoked
	}
	return nil
}

func (m *InMemory) RevokeAllForUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.recs {
		if rec.UserID == userID {
			rec.State = StateRevoked
		}
	}
	return nil
}

// LiveCount reports the number of live records a user holds. Test helper.
func (m *InMemory) LiveCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.recs {
		if rec.UserID == userID && rec.State == StateLive {
			n++
		}
	}
	return n
}
