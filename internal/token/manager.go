package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"authly.org/internal/auth"
	"authly.org/internal/obs"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour

	// clockLeeway tolerates small clock skew between instances when
	// validating exp/iat, to avoid false rejects across distributed clocks.
	clockLeeway = 5 * time.Second
)

// Claims are the signed token contents shared by access and refresh tokens.
// The two kinds are verified against distinct secrets, so neither can stand
// in for the other.
type Claims struct {
	IsAdmin bool `json:"adm,omitempty"`
	jwt.RegisteredClaims
}

// Manager issues, verifies, rotates and revokes session tokens. Access
// tokens are stateless; refresh tokens are persisted by hash and are
// single-use per rotation.
type Manager struct {
	store         RefreshTokenStore
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// ManagerOption configures Manager behavior.
type ManagerOption func(*Manager)

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ManagerOption {
	return func(m *Manager) {
		if issuer != "" {
			m.issuer = issuer
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.refreshTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager constructs a Manager over the refresh-token store.
func NewManager(store RefreshTokenStore, accessSecret, refreshSecret string, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:         store,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		issuer:        "authly",
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Issue mints a fresh access/refresh pair for an authenticated principal
// and persists the refresh record.
func (m *Manager) Issue(ctx context.Context, principal auth.Principal, meta ClientMeta) (TokenPair, error) {
	return m.mint(ctx, principal, meta)
}

// Rotate exchanges a refresh token for a new pair. Each refresh token is
// single-use: the winner of a concurrent race rotates, the loser observes
// the already-retired record. Presenting a retired token is treated as a
// theft signal and revokes every refresh token the user holds.
func (m *Manager) Rotate(ctx context.Context, presented string, meta ClientMeta) (TokenPair, error) {
	claims, err := m.parse(presented, m.refreshSecret)
	if err != nil {
		return TokenPair{}, ErrRefreshInvalid
	}
	jti := claims.ID
	if jti == "" || claims.Subject == "" {
		return TokenPair{}, ErrRefreshInvalid
	}

	rec, err := m.store.FindByJTI(ctx, jti)
	if err != nil {
		return TokenPair{}, ErrRefreshInvalid
	}

	hash := hashToken(presented)
	if rec.TokenHash != hash || rec.UserID != claims.Subject {
		// Valid signature but mismatched record: the raw token was not the
		// one this record was minted for. Retire the record.
		_ = m.store.Revoke(ctx, jti)
		return TokenPair{}, ErrRefreshInvalid
	}

	now := m.now()
	if rec.State != StateLive {
		// Reuse of a retired token: strongest signal of theft. Invalidate
		// the whole session family, not just this chain.
		obs.IncRefreshReuse()
		if err := m.store.RevokeAllForUser(ctx, rec.UserID); err != nil {
			return TokenPair{}, err
		}
		return TokenPair{}, ErrRefreshInvalid
	}
	if !now.Before(rec.ExpiresAt) {
		return TokenPair{}, ErrRefreshInvalid
	}

	// Claim the rotation before minting: the live -> rotated transition is
	// the single atomic step two concurrent rotations race on.
	newJTI := uuid.NewString()
	won, err := m.store.MarkRotated(ctx, jti, hash, newJTI)
	if err != nil {
		return TokenPair{}, err
	}
	if !won {
		obs.IncRefreshReuse()
		if err := m.store.RevokeAllForUser(ctx, rec.UserID); err != nil {
			return TokenPair{}, err
		}
		return TokenPair{}, ErrRefreshInvalid
	}

	principal := auth.Principal{UserID: claims.Subject, IsAdmin: claims.IsAdmin}
	pair, err := m.mintWithJTI(ctx, principal, meta, newJTI)
	if err != nil {
		return TokenPair{}, err
	}
	obs.IncRefreshRotation()
	return pair, nil
}

// Revoke invalidates a specific refresh token when one is presented, or
// every token of the user otherwise. Logout is idempotent and never leaks
// whether a token existed.
func (m *Manager) Revoke(ctx context.Context, userID, presented string) error {
	if presented == "" {
		return m.store.RevokeAllForUser(ctx, userID)
	}
	claims, err := m.parse(presented, m.refreshSecret)
	if err != nil {
		return nil
	}
	rec, err := m.store.FindByJTI(ctx, claims.ID)
	if err != nil || rec.UserID != userID || rec.TokenHash != hashToken(presented) {
		return nil
	}
	return m.store.Revoke(ctx, claims.ID)
}

// VerifyAccess validates an access token and returns the principal it
// carries. Purely stateless: signature and expiry only.
func (m *Manager) VerifyAccess(raw string) (auth.Principal, error) {
	claims, err := m.parse(raw, m.accessSecret)
	if err != nil || claims.Subject == "" {
		return auth.Principal{}, ErrAccessInvalid
	}
	return auth.Principal{UserID: claims.Subject, IsAdmin: claims.IsAdmin}, nil
}

func (m *Manager) mint(ctx context.Context, principal auth.Principal, meta ClientMeta) (TokenPair, error) {
	return m.mintWithJTI(ctx, principal, meta, uuid.NewString())
}

func (m *Manager) mintWithJTI(ctx context.Context, principal auth.Principal, meta ClientMeta, refreshJTI string) (TokenPair, error) {
	now := m.now().UTC()
	accessExp := now.Add(m.accessTTL)
	refreshExp := now.Add(m.refreshTTL)

	access, err := m.sign(m.accessSecret, Claims{
		IsAdmin: principal.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   principal.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
			ID:        uuid.NewString(),
		},
	})
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := m.sign(m.refreshSecret, Claims{
		IsAdmin: principal.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   principal.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExp),
			ID:        refreshJTI,
		},
	})
	if err != nil {
		return TokenPair{}, err
	}

	rec := &RefreshTokenRecord{
		JTI:       refreshJTI,
		TokenHash: hashToken(refresh),
		UserID:    principal.UserID,
		State:     StateLive,
		ExpiresAt: refreshExp,
		CreatedAt: now,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	}
	if err := m.store.Create(ctx, rec); err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (m *Manager) sign(secret []byte, claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (m *Manager) parse(raw string, secret []byte) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrAccessInvalid
		}
		return secret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockLeeway),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrAccessInvalid
	}
	return claims, nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
