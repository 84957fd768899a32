package pg

import (
	"context"
	"database/sql"
	"errors"

	"authly.org/internal/token"
)

// Tokens is the Postgres-backed token.RefreshTokenStore.
type Tokens struct{ db *sql.DB }

var _ token.RefreshTokenStore = (*Tokens)(nil)

// Tokens returns the refresh-token repository bound to the pool.
func (s *Store) Tokens() *Tokens { return &Tokens{db: s.db} }

func (r *Tokens) Create(ctx context.Context, rec *token.RefreshTokenRecord) error {
	_, err := r.db.ExecContext(ctx, `
		insert into refresh_tokens (jti, token_hash, user_id, state, replaced_by, expires_at, created_at, ip, user_agent)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, rec.JTI, rec.TokenHash, rec.UserID, string(rec.State), rec.ReplacedBy,
		rec.ExpiresAt, rec.CreatedAt, rec.IP, rec.UserAgent)
	return err
}

func (r *Tokens) FindByJTI(ctx context.Context, jti string) (*token.RefreshTokenRecord, error) {
	var (
		rec   token.RefreshTokenRecord
		state string
	)
	err := r.db.QueryRowContext(ctx, `
		select jti, token_hash, user_id, state, replaced_by, expires_at, created_at, ip, user_agent
		from refresh_tokens where jti = $1
	`, jti).Scan(&rec.JTI, &rec.TokenHash, &rec.UserID, &state, &rec.ReplacedBy,
		&rec.ExpiresAt, &rec.CreatedAt, &rec.IP, &rec.UserAgent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, token.ErrRefreshInvalid
	}
	if err != nil {
		return nil, err
	}
	rec.State = token.State(state)
	return &rec, nil
}

// MarkRotated performs the live -> rotated transition as one conditional
// update; the row predicate is the CAS that lets exactly one of two racing
// rotations win.
func (r *Tokens) MarkRotated(ctx context.Context, jti, tokenHash, replacedBy string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		update refresh_tokens
		set state = 'rotated', replaced_by = $3
		where jti = $1 and token_hash = $2 and state = 'live'
	`, jti, tokenHash, replacedBy)
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff == 1, nil
}

func (r *Tokens) Revoke(ctx context.Context, jti string) error {
	_, err := r.db.ExecContext(ctx, `
		update refresh_tokens set state = 'revoked' where jti = $1
	`, jti)
	return err
}

func (r *Tokens) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		update refresh_tokens set state = 'revoked' where user_id = $1 and state <> 'revoked'
	`, userID)
	return err
}

// PurgeExpired deletes records past their expiry. Correctness never depends
// on it; it keeps the table from growing without bound.
func (r *Tokens) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `delete from refresh_tokens where expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
