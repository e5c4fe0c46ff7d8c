package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"gatehouse.dev/internal/store/pg"
)

const (
	constraintUserLogin = "authuser_login_key"

	advanceUserIDSequence = `select setval(pg_get_serial_sequence('authuser', 'userid'), greatest(max(userid), 1)) from authuser`
)

var _ CredentialsStore = (*PGUsers)(nil)

// PGUsers implements CredentialsStore on the authuser, authrole and
// authrolelink tables.
type PGUsers struct {
	db *sql.DB
}

func NewPGUsers(db *sql.DB) (*PGUsers, error) {
	if db == nil {
		return nil, errors.New("auth: database is required")
	}
	return &PGUsers{db: db}, nil
}

func (s *PGUsers) Install(ctx context.Context) error {
	return execInTx(ctx, s.db, "install users",
		`create table authrole (
			roleid bigint generated always as identity primary key,
			name text not null,
			constraint authrole_name_key unique (name)
		)`,
		`create table authuser (
			userid bigint generated by default as identity primary key,
			login text not null,
			passwd text not null,
			created_at timestamptz not null default now(),
			constraint authuser_login_key unique (login)
		)`,
		`create table authrolelink (
			userid bigint not null references authuser (userid) on delete cascade,
			roleid bigint not null references authrole (roleid) on delete cascade,
			primary key (userid, roleid)
		)`,
	)
}

func (s *PGUsers) Remove(ctx context.Context) error {
	return execInTx(ctx, s.db, "remove users",
		`drop table authrolelink`,
		`drop table authuser`,
		`drop table authrole`,
	)
}

func (s *PGUsers) AddRole(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if _, err := s.db.ExecContext(ctx, `insert into authrole (name) values ($1)`, name); err != nil {
		if _, dup := pg.UniqueViolation(err); dup {
			return ErrDuplicateRole
		}
		return storageErr("add role", err)
	}
	return nil
}

func (s *PGUsers) RemoveRole(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from authrole where name = $1`, strings.TrimSpace(name))
	if err != nil {
		return false, storageErr("remove role", err)
	}
	return affected(res, "remove role")
}

func (s *PGUsers) ListRoles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `select name from authrole order by name`)
	if err != nil {
		return nil, storageErr("list roles", err)
	}
	defer rows.Close()
	return scanNames(rows, "list roles")
}

func (s *PGUsers) AddUser(ctx context.Context, login string, attrs UserAttributes) (int64, error) {
	login = strings.TrimSpace(login)
	if login == "" {
		return 0, fmt.Errorf("%w: login is required", ErrInvalidInput)
	}
	if attrs.Password == "" {
		return 0, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	if attrs.UserID < 0 {
		return 0, fmt.Errorf("%w: user id must not be negative", ErrInvalidInput)
	}
	hash, err := HashPassword(attrs.Password)
	if err != nil {
		return 0, fmt.Errorf("auth: hash password: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("add user", err)
	}
	defer func() { _ = tx.Rollback() }()

	id := attrs.UserID
	if id > 0 {
		_, err = tx.ExecContext(ctx,
			`insert into authuser (userid, login, passwd) values ($1, $2, $3)`, id, login, hash)
	} else {
		err = tx.QueryRowContext(ctx,
			`insert into authuser (login, passwd) values ($1, $2) returning userid`, login, hash).Scan(&id)
	}
	if err != nil {
		if constraint, dup := pg.UniqueViolation(err); dup {
			if constraint == constraintUserLogin {
				return 0, ErrDuplicateLogin
			}
			return 0, ErrDuplicateUserID
		}
		return 0, storageErr("add user", err)
	}
	if attrs.UserID > 0 {
		// Explicit ids bypass the identity sequence; move it past them so
		// later generated ids do not collide.
		if _, err := tx.ExecContext(ctx, advanceUserIDSequence); err != nil {
			return 0, storageErr("add user", err)
		}
	}

	for _, role := range normalizeRoles(attrs.Roles) {
		res, err := tx.ExecContext(ctx,
			`insert into authrolelink (userid, roleid) select $1, roleid from authrole where name = $2`, id, role)
		if err != nil {
			return 0, storageErr("link user role", err)
		}
		linked, err := affected(res, "link user role")
		if err != nil {
			return 0, err
		}
		if !linked {
			return 0, fmt.Errorf("%w: %s", ErrUnknownRole, role)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("add user", err)
	}
	return id, nil
}

func (s *PGUsers) RemoveUser(ctx context.Context, login string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from authuser where login = $1`, strings.TrimSpace(login))
	if err != nil {
		return false, storageErr("remove user", err)
	}
	return affected(res, "remove user")
}

func (s *PGUsers) UserID(ctx context.Context, login string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `select userid from authuser where login = $1`, strings.TrimSpace(login)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, storageErr("lookup user", err)
	}
	return id, nil
}

func (s *PGUsers) Authenticate(ctx context.Context, login, password string) (int64, error) {
	var (
		id   int64
		hash string
	)
	err := s.db.QueryRowContext(ctx,
		`select userid, passwd from authuser where login = $1`, strings.TrimSpace(login)).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		burnPasswordCheck(password)
		return 0, ErrAuthenticationFailed
	}
	if err != nil {
		return 0, storageErr("authenticate", err)
	}
	if err := VerifyPassword(hash, password); err != nil {
		return 0, ErrAuthenticationFailed
	}
	return id, nil
}

func (s *PGUsers) Roles(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.name
		from authrolelink l
		join authrole r on r.roleid = l.roleid
		where l.userid = $1
		order by r.name
	`, userID)
	if err != nil {
		return nil, storageErr("list user roles", err)
	}
	defer rows.Close()
	return scanNames(rows, "list user roles")
}

func (s *PGUsers) IsUserInRole(ctx context.Context, userID int64, role string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		select exists (
			select 1
			from authrolelink l
			join authrole r on r.roleid = l.roleid
			where l.userid = $1 and r.name = $2
		)
	`, userID, strings.TrimSpace(role)).Scan(&ok)
	if err != nil {
		return false, storageErr("check user role", err)
	}
	return ok, nil
}

func scanNames(rows *sql.Rows, op string) ([]string, error) {
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, storageErr(op, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return names, nil
}
