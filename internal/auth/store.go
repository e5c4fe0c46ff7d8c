package auth

import (
	"context"
	"time"
)

// Installer creates and drops the persistent structure behind a store.
// Installing twice without a Remove in between fails with a *StorageError.
type Installer interface {
	Install(ctx context.Context) error
	Remove(ctx context.Context) error
}

// SessionStore persists sessions and decides their validity against the
// store's Policy.
type SessionStore interface {
	Installer

	StartSession(ctx context.Context, userID int64, hostIP string, remember bool) (string, error)
	IsSessionValid(ctx context.Context, authID, hostIP string) (bool, error)
	ContinueSession(ctx context.Context, authID string) (bool, error)
	SessionUserID(ctx context.Context, authID string) (int64, error)
	WasRemembered(ctx context.Context, authID string) (bool, error)

	EraseSession(ctx context.Context, authID string) (bool, error)
	EraseUserSessions(ctx context.Context, userID int64) (int64, error)
	EraseAllSessions(ctx context.Context) error
	PurgeSessions(ctx context.Context) (int64, error)
	CountSessions(ctx context.Context) (int64, error)

	SetSessionDuration(d time.Duration)
	SessionDuration() time.Duration
	SetRestrictHostIP(restrict bool)
	RestrictHostIP() bool
}

// CredentialsStore persists users, roles and their links.
type CredentialsStore interface {
	Installer

	AddRole(ctx context.Context, name string) error
	RemoveRole(ctx context.Context, name string) (bool, error)
	ListRoles(ctx context.Context) ([]string, error)

	AddUser(ctx context.Context, login string, attrs UserAttributes) (int64, error)
	RemoveUser(ctx context.Context, login string) (bool, error)
	UserID(ctx context.Context, login string) (int64, error)
	Authenticate(ctx context.Context, login, password string) (int64, error)

	Roles(ctx context.Context, userID int64) ([]string, error)
	IsUserInRole(ctx context.Context, userID int64, role string) (bool, error)
}
