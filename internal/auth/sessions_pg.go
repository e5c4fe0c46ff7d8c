package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gatehouse.dev/internal/store/pg"
)

var _ SessionStore = (*PGSessions)(nil)

// PGSessions implements SessionStore on the authsession table.
type PGSessions struct {
	*Policy
	db *sql.DB
}

// NewPGSessions wraps db. A nil policy falls back to DefaultSessionDuration.
func NewPGSessions(db *sql.DB, policy *Policy) (*PGSessions, error) {
	if db == nil {
		return nil, errors.New("auth: database is required")
	}
	if policy == nil {
		policy = NewPolicy(DefaultSessionDuration)
	}
	return &PGSessions{Policy: policy, db: db}, nil
}

func (s *PGSessions) Install(ctx context.Context) error {
	return execInTx(ctx, s.db, "install sessions",
		`create table authsession (
			authid text primary key,
			userid bigint not null check (userid >= 0),
			hostip text not null,
			created_at timestamptz not null,
			remembered boolean not null default false
		)`,
		`create index authsession_userid_idx on authsession (userid)`,
	)
}

func (s *PGSessions) Remove(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `drop table authsession`); err != nil {
		return storageErr("remove sessions", err)
	}
	return nil
}

func (s *PGSessions) StartSession(ctx context.Context, userID int64, hostIP string, remember bool) (string, error) {
	if userID < 0 {
		return "", fmt.Errorf("%w: user id must not be negative", ErrInvalidInput)
	}
	now := s.Now().UTC()
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		authID, err := newAuthID()
		if err != nil {
			return "", fmt.Errorf("auth: generate session id: %w", err)
		}
		_, err = s.db.ExecContext(ctx,
			`insert into authsession (authid, userid, hostip, created_at, remembered) values ($1, $2, $3, $4, $5)`,
			authID, userID, hostIP, now, remember,
		)
		if err == nil {
			return authID, nil
		}
		if _, dup := pg.UniqueViolation(err); dup {
			continue
		}
		return "", storageErr("start session", err)
	}
	return "", storageErr("start session", errors.New("no unique session id after retries"))
}

func (s *PGSessions) IsSessionValid(ctx context.Context, authID, hostIP string) (bool, error) {
	sess, ok, err := s.load(ctx, authID)
	if err != nil {
		return false, storageErr("check session", err)
	}
	if !ok {
		return false, nil
	}
	return s.valid(sess, hostIP), nil
}

func (s *PGSessions) ContinueSession(ctx context.Context, authID string) (bool, error) {
	now := s.Now().UTC()
	var (
		res sql.Result
		err error
	)
	if cutoff, ok := s.cutoff(now); ok {
		res, err = s.db.ExecContext(ctx,
			`update authsession set created_at = $1 where authid = $2 and created_at >= $3`, now, authID, cutoff)
	} else {
		res, err = s.db.ExecContext(ctx,
			`update authsession set created_at = $1 where authid = $2`, now, authID)
	}
	if err != nil {
		return false, storageErr("continue session", err)
	}
	return affected(res, "continue session")
}

func (s *PGSessions) SessionUserID(ctx context.Context, authID string) (int64, error) {
	var userID int64
	err := s.db.QueryRowContext(ctx, `select userid from authsession where authid = $1`, authID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, storageErr("lookup session user", err)
	}
	return userID, nil
}

func (s *PGSessions) WasRemembered(ctx context.Context, authID string) (bool, error) {
	var remembered bool
	err := s.db.QueryRowContext(ctx, `select remembered from authsession where authid = $1`, authID).Scan(&remembered)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("lookup session remembered", err)
	}
	return remembered, nil
}

func (s *PGSessions) EraseSession(ctx context.Context, authID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from authsession where authid = $1`, authID)
	if err != nil {
		return false, storageErr("erase session", err)
	}
	return affected(res, "erase session")
}

func (s *PGSessions) EraseUserSessions(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from authsession where userid = $1`, userID)
	if err != nil {
		return 0, storageErr("erase user sessions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("erase user sessions", err)
	}
	return n, nil
}

func (s *PGSessions) EraseAllSessions(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `delete from authsession`); err != nil {
		return storageErr("erase all sessions", err)
	}
	return nil
}

func (s *PGSessions) PurgeSessions(ctx context.Context) (int64, error) {
	cutoff, ok := s.cutoff(s.Now().UTC())
	if !ok {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `delete from authsession where created_at < $1`, cutoff)
	if err != nil {
		return 0, storageErr("purge sessions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("purge sessions", err)
	}
	return n, nil
}

func (s *PGSessions) CountSessions(ctx context.Context) (int64, error) {
	var (
		n   int64
		err error
	)
	if cutoff, ok := s.cutoff(s.Now().UTC()); ok {
		err = s.db.QueryRowContext(ctx, `select count(*) from authsession where created_at >= $1`, cutoff).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `select count(*) from authsession`).Scan(&n)
	}
	if err != nil {
		return 0, storageErr("count sessions", err)
	}
	return n, nil
}

func (s *PGSessions) load(ctx context.Context, authID string) (Session, bool, error) {
	sess := Session{AuthID: authID}
	err := s.db.QueryRowContext(ctx,
		`select userid, hostip, created_at, remembered from authsession where authid = $1`, authID,
	).Scan(&sess.UserID, &sess.HostIP, &sess.CreatedAt, &sess.Remembered)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}

func execInTx(ctx context.Context, db *sql.DB, op string, statements ...string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op, err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			if pg.DuplicateTable(err) {
				return storageErr(op, fmt.Errorf("%w: %v", ErrAlreadyInstalled, err))
			}
			return storageErr(op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr(op, err)
	}
	return nil
}

func affected(res sql.Result, op string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr(op, err)
	}
	return n > 0, nil
}
