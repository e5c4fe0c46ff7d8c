package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

var sessionColumns = []string{"userid", "hostip", "created_at", "remembered"}

func newPGSessions(t *testing.T, d time.Duration, now time.Time) (*PGSessions, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	policy := NewPolicy(d)
	policy.SetClock(func() time.Time { return now })
	store, err := NewPGSessions(db, policy)
	if err != nil {
		t.Fatalf("NewPGSessions: %v", err)
	}
	return store, mock
}

func TestPGSessionsInstall(t *testing.T) {
	store, mock := newPGSessions(t, time.Minute, time.Now())
	mock.ExpectBegin()
	mock.ExpectExec("create table authsession").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index authsession_userid_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := store.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGSessionsInstallTwiceFails(t *testing.T) {
	store, mock := newPGSessions(t, time.Minute, time.Now())
	mock.ExpectBegin()
	mock.ExpectExec("create table authsession").WillReturnError(&pgconn.PgError{Code: "42P07", Message: "relation \"authsession\" already exists"})
	mock.ExpectRollback()

	err := store.Install(context.Background())
	var serr *StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if !errors.Is(err, ErrAlreadyInstalled) {
		t.Fatalf("expected ErrAlreadyInstalled, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGSessionsStartSession(t *testing.T) {
	store, mock := newPGSessions(t, time.Minute, time.Now())
	mock.ExpectExec("insert into authsession").
		WithArgs(sqlmock.AnyArg(), int64(9478), testHostIP, sqlmock.AnyArg(), true).
		WillReturnResult(sqlmock.NewResult(1, 1))

	authID, err := store.StartSession(context.Background(), 9478, testHostIP, true)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if len(authID) < 40 {
		t.Fatalf("expected a 32 byte token, got %q", authID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGSessionsStartSessionRetriesCollision(t *testing.T) {
	store, mock := newPGSessions(t, time.Minute, time.Now())
	mock.ExpectExec("insert into authsession").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "authsession_pkey"})
	mock.ExpectExec("insert into authsession").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if _, err := store.StartSession(context.Background(), 1, testHostIP, false); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGSessionsStartSessionRejectsNegativeUser(t *testing.T) {
	store, _ := newPGSessions(t, time.Minute, time.Now())
	if _, err := store.StartSession(context.Background(), -1, testHostIP, false); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPGSessionsIsSessionValid(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name     string
		created  time.Time
		hostIP   string
		restrict bool
		want     bool
	}{
		{"fresh", now.Add(-time.Minute), testHostIP, false, true},
		{"at the boundary", now.Add(-time.Hour), testHostIP, false, true},
		{"expired", now.Add(-time.Hour - time.Second), testHostIP, false, false},
		{"other host unrestricted", now, "1.1.1.1", false, true},
		{"other host restricted", now, "1.1.1.1", true, false},
		{"same host restricted", now, testHostIP, true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, mock := newPGSessions(t, time.Hour, now)
			store.SetRestrictHostIP(tc.restrict)
			mock.ExpectQuery("select userid, hostip, created_at, remembered from authsession where authid = \\$1").
				WithArgs("tok").
				WillReturnRows(sqlmock.NewRows(sessionColumns).AddRow(int64(9478), testHostIP, tc.created, false))

			ok, err := store.IsSessionValid(context.Background(), "tok", tc.hostIP)
			if err != nil {
				t.Fatalf("IsSessionValid: %v", err)
			}
			if ok != tc.want {
				t.Fatalf("valid=%v, want %v", ok, tc.want)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet expectations: %v", err)
			}
		})
	}
}

func TestPGSessionsNeverExpireWithNegativeDuration(t *testing.T) {
	now := time.Now()
	store, mock := newPGSessions(t, -1, now)
	mock.ExpectQuery("select userid, hostip, created_at, remembered from authsession").
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows(sessionColumns).AddRow(int64(1), testHostIP, now.AddDate(-5, 0, 0), false))

	ok, err := store.IsSessionValid(context.Background(), "tok", testHostIP)
	if err != nil || !ok {
		t.Fatalf("expected old session to stay valid, ok=%v err=%v", ok, err)
	}
}

func TestPGSessionsUnknownSession(t *testing.T) {
	store, mock := newPGSessions(t, time.Minute, time.Now())
	mock.ExpectQuery("select userid, hostip, created_at, remembered from authsession").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(sessionColumns))
	mock.ExpectQuery("select userid from authsession where authid = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"userid"}))
	mock.ExpectQuery("select remembered from authsession").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"remembered"}))

	ctx := context.Background()
	if ok, err := store.IsSessionValid(ctx, "missing", testHostIP); err != nil || ok {
		t.Fatalf("IsSessionValid: ok=%v err=%v", ok, err)
	}
	if _, err := store.SessionUserID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if remembered, err := store.WasRemembered(ctx, "missing"); err != nil || remembered {
		t.Fatalf("WasRemembered: %v %v", remembered, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGSessionsContinueSession(t *testing.T) {
	store, mock := newPGSessions(t, time.Minute, time.Now())
	mock.ExpectExec("update authsession set created_at = \\$1 where authid = \\$2 and created_at >= \\$3").
		WithArgs(sqlmock.AnyArg(), "tok", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update authsession set created_at").
		WithArgs(sqlmock.AnyArg(), "stale", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	if ok, err := store.ContinueSession(ctx, "tok"); err != nil || !ok {
		t.Fatalf("ContinueSession(tok): ok=%v err=%v", ok, err)
	}
	if ok, err := store.ContinueSession(ctx, "stale"); err != nil || ok {
		t.Fatalf("ContinueSession(stale): ok=%v err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGSessionsErase(t *testing.T) {
	store, mock := newPGSessions(t, time.Minute, time.Now())
	mock.ExpectExec("delete from authsession where authid = \\$1").
		WithArgs("tok").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from authsession where authid = \\$1").
		WithArgs("tok").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from authsession where userid = \\$1").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("delete from authsession$").
		WillReturnResult(sqlmock.NewResult(0, 12))

	ctx := context.Background()
	if erased, err := store.EraseSession(ctx, "tok"); err != nil || !erased {
		t.Fatalf("first EraseSession: %v %v", erased, err)
	}
	if erased, err := store.EraseSession(ctx, "tok"); err != nil || erased {
		t.Fatalf("second EraseSession: %v %v", erased, err)
	}
	if n, err := store.EraseUserSessions(ctx, 7); err != nil || n != 3 {
		t.Fatalf("EraseUserSessions: %d %v", n, err)
	}
	if err := store.EraseAllSessions(ctx); err != nil {
		t.Fatalf("EraseAllSessions: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGSessionsPurgeAndCount(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store, mock := newPGSessions(t, time.Hour, now)
	mock.ExpectExec("delete from authsession where created_at < \\$1").
		WithArgs(now.Add(-time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectQuery("select count\\(\\*\\) from authsession where created_at >= \\$1").
		WithArgs(now.Add(-time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))

	ctx := context.Background()
	if n, err := store.PurgeSessions(ctx); err != nil || n != 4 {
		t.Fatalf("PurgeSessions: %d %v", n, err)
	}
	if n, err := store.CountSessions(ctx); err != nil || n != 2 {
		t.Fatalf("CountSessions: %d %v", n, err)
	}

	store.SetSessionDuration(-1)
	mock.ExpectQuery("select count\\(\\*\\) from authsession$").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(6)))
	if n, err := store.PurgeSessions(ctx); err != nil || n != 0 {
		t.Fatalf("PurgeSessions without expiry: %d %v", n, err)
	}
	if n, err := store.CountSessions(ctx); err != nil || n != 6 {
		t.Fatalf("CountSessions without expiry: %d %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGSessionsStorageErrors(t *testing.T) {
	store, mock := newPGSessions(t, time.Minute, time.Now())
	boom := errors.New("boom")
	mock.ExpectQuery("select userid from authsession").WillReturnError(boom)
	mock.ExpectExec("delete from authsession where authid").WillReturnError(boom)

	ctx := context.Background()
	var serr *StorageError
	if _, err := store.SessionUserID(ctx, "tok"); !errors.As(err, &serr) || !errors.Is(err, boom) {
		t.Fatalf("SessionUserID: expected StorageError wrapping boom, got %v", err)
	}
	if _, err := store.EraseSession(ctx, "tok"); !errors.As(err, &serr) || serr.Op != "erase session" {
		t.Fatalf("EraseSession: expected StorageError, got %v", err)
	}
}
