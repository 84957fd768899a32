package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"authly.org/internal/auth"
	"authly.org/internal/tenant"
	"authly.org/internal/token"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestMarkRotatedWinsOnLiveRow(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("update refresh_tokens").
		WithArgs("jti-1", "hash-1", "jti-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	won, err := store.Tokens().MarkRotated(context.Background(), "jti-1", "hash-1", "jti-2")
	if err != nil {
		t.Fatalf("MarkRotated: %v", err)
	}
	if !won {
		t.Fatal("expected rotation to win")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMarkRotatedLosesOnRetiredRow(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("update refresh_tokens").
		WithArgs("jti-1", "hash-1", "jti-2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := store.Tokens().MarkRotated(context.Background(), "jti-1", "hash-1", "jti-2")
	if err != nil {
		t.Fatalf("MarkRotated: %v", err)
	}
	if won {
		t.Fatal("expected rotation to lose on a non-live row")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindByJTIScansRecord(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"jti", "token_hash", "user_id", "state", "replaced_by", "expires_at", "created_at", "ip", "user_agent",
	}).AddRow("jti-1", "hash-1", "user-1", "rotated", "jti-2", now.Add(time.Hour), now, "10.0.0.1", "cli")
	mock.ExpectQuery("from refresh_tokens where jti").WithArgs("jti-1").WillReturnRows(rows)

	rec, err := store.Tokens().FindByJTI(context.Background(), "jti-1")
	if err != nil {
		t.Fatalf("FindByJTI: %v", err)
	}
	if rec.State != token.StateRotated || rec.ReplacedBy != "jti-2" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestFindByJTIMapsNoRows(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("from refresh_tokens where jti").WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"jti"}))

	_, err := store.Tokens().FindByJTI(context.Background(), "nope")
	if !errors.Is(err, token.ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid, got %v", err)
	}
}

func TestPurgeExpiredReportsCount(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("delete from refresh_tokens").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.Tokens().PurgeExpired(context.Background())
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 3 {
		t.Fatalf("purged count: %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConsumeBackupCodeIsConditional(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("update credentials").
		WithArgs("user-1", "hash-x").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update credentials").
		WithArgs("user-1", "hash-x").
		WillReturnResult(sqlmock.NewResult(0, 0))

	creds := store.Credentials()
	ok, err := creds.ConsumeBackupCode(context.Background(), "user-1", "hash-x")
	if err != nil || !ok {
		t.Fatalf("first consume: ok=%v err=%v", ok, err)
	}
	ok, err = creds.ConsumeBackupCode(context.Background(), "user-1", "hash-x")
	if err != nil || ok {
		t.Fatalf("second consume must miss: ok=%v err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	lock := now.Add(30 * time.Minute)
	rows := sqlmock.NewRows([]string{
		"id", "username", "email", "phone", "password_hash", "failed_attempts", "lock_until",
		"mfa_method", "mfa_secret", "mfa_enabled", "backup_codes", "is_admin", "is_superadmin",
		"created_at", "updated_at",
	}).AddRow("u1", "alice", "alice@acme.test", "", "$2a$10$hash", 5, lock,
		"totp", "SECRET", true, []byte(`["h1","h2"]`), false, false, now, now)
	mock.ExpectQuery("from credentials where id").WithArgs("u1").WillReturnRows(rows)

	c, err := store.Credentials().Find(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if c.FailedAttempts != 5 || c.LockUntil == nil || !c.LockUntil.Equal(lock) {
		t.Fatalf("lock state lost: %+v", c)
	}
	if c.MFA.Method != auth.MFATOTP || !c.MFA.Enabled {
		t.Fatalf("mfa state lost: %+v", c.MFA)
	}
	if len(c.BackupCodes) != 2 {
		t.Fatalf("backup codes lost: %v", c.BackupCodes)
	}
}

func TestOneTimeCodeConsumeIsConditional(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("delete from one_time_codes").
		WithArgs("user-1", "email", "hash-y", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.Codes().Consume(context.Background(), "user-1", auth.MFAEmail, "hash-y", now)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if ok {
		t.Fatal("expected miss for expired or absent code")
	}
}

func TestMarkInviteAcceptedIsSingleUse(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("update invites").
		WithArgs("code-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update invites").
		WithArgs("code-1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	tenants := store.Tenants()
	won, err := tenants.MarkInviteAccepted(context.Background(), "code-1", now)
	if err != nil || !won {
		t.Fatalf("first accept: won=%v err=%v", won, err)
	}
	won, err = tenants.MarkInviteAccepted(context.Background(), "code-1", now)
	if err != nil || won {
		t.Fatalf("second accept must lose: won=%v err=%v", won, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindMembershipMapsNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("from memberships where tenant_id").WithArgs("t1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.Tenants().FindMembership(context.Background(), "t1", "u1")
	if !errors.Is(err, tenant.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
