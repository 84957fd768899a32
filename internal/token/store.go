package token

import "context"

// RefreshTokenStore persists refresh-token records. Implementations must
// make MarkRotated atomic on the live -> rotated transition: of two
// concurrent rotations of the same token, exactly one may win. Records are
// expected to age out on their own once ExpiresAt passes (TTL semantics);
// that cleanup is eventual and never a correctness dependency.
type RefreshTokenStore interface {
	Create(ctx context.Context, rec *RefreshTokenRecord) error
	FindByJTI(ctx context.Context, jti string) (*RefreshTokenRecord, error)

	// MarkRotated flips the record matching (jti, tokenHash, state=live)
	// to rotated and sets replacedBy in a single conditional operation.
	// Returns false when no live record matched.
	MarkRotated(ctx context.Context, jti, tokenHash, replacedBy string) (bool, error)

	// Revoke marks a single record revoked. Idempotent; absent records are
	// not an error.
	Revoke(ctx context.Context, jti string) error

	// RevokeAllForUser marks every record of the user revoked (global
	// logout, reuse response). Idempotent.
	RevokeAllForUser(ctx context.Context, userID string) error
}
