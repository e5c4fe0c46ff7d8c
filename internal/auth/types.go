package auth

import (
	"strings"
	"time"
)

// User is an identity managed by a CredentialsStore.
type User struct {
	ID           int64
	Login        string
	PasswordHash string
	Roles        []string
	CreatedAt    time.Time
}

// UserAttributes carries the data needed to register a user.
// A zero UserID lets the store assign one.
type UserAttributes struct {
	UserID   int64
	Password string
	Roles    []string
}

// Session is a live authentication record owned by a SessionStore.
type Session struct {
	AuthID     string
	UserID     int64
	HostIP     string
	CreatedAt  time.Time
	Remembered bool
}

// normalizeRoles trims role names and drops blanks and duplicates, keeping
// first-seen order. Role names stay case-sensitive.
func normalizeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var normalized []string
	for _, role := range roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}
