package token

import (
	"errors"
	"time"
)

// ErrRefreshInvalid covers expired, malformed, unknown and reused refresh
// tokens. Deliberately undifferentiated so the endpoint cannot be used as
// an oracle.
var ErrRefreshInvalid = errors.New("token: refresh invalid")

// ErrAccessInvalid indicates an access token failed verification.
var ErrAccessInvalid = errors.New("token: access invalid")

// State is the explicit lifecycle tag of a refresh-token record. A token
// leaves Live exactly once: either Rotated (replaced by a successor) or
// Revoked (logout or family invalidation). Presenting a non-live record is
// a reuse signal.
type State string

const (
	StateLive    State = "live"
	StateRotated State = "rotated"
	StateRevoked State = "revoked"
)

// ClientMeta is audit metadata captured at issuance.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// RefreshTokenRecord is the persisted identity of one refresh token. Only
// the sha256 of the raw signed token is stored so a database compromise
// cannot be used to forge sessions.
type RefreshTokenRecord struct {
	JTI        string
	TokenHash  string
	UserID     string
	State      State
	ReplacedBy string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	IP         string
	UserAgent  string
}

// Live reports whether the record is current as of the given instant.
// Expired records are treated as absent regardless of physical cleanup.
func (r *RefreshTokenRecord) Live(now time.Time) bool {
	return r.State == StateLive && now.Before(r.ExpiresAt)
}

// TokenPair bundles the two tokens returned from issuance and rotation.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
