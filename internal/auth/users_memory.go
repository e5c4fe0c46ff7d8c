package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var _ CredentialsStore = (*MemoryUsers)(nil)

// MemoryUsers keeps credentials in process memory.
type MemoryUsers struct {
	mu        sync.RWMutex
	users     map[string]User
	roles     map[string]struct{}
	nextID    int64
	installed bool
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{
		users:  make(map[string]User),
		roles:  make(map[string]struct{}),
		nextID: 1,
	}
}

func (s *MemoryUsers) Install(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.installed {
		return storageErr("install users", ErrAlreadyInstalled)
	}
	s.installed = true
	return nil
}

func (s *MemoryUsers) Remove(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = make(map[string]User)
	s.roles = make(map[string]struct{})
	s.nextID = 1
	s.installed = false
	return nil
}

func (s *MemoryUsers) AddRole(_ context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[name]; ok {
		return ErrDuplicateRole
	}
	s.roles[name] = struct{}{}
	return nil
}

func (s *MemoryUsers) RemoveRole(_ context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[name]; !ok {
		return false, nil
	}
	delete(s.roles, name)
	for login, u := range s.users {
		kept := u.Roles[:0:0]
		for _, r := range u.Roles {
			if r != name {
				kept = append(kept, r)
			}
		}
		u.Roles = kept
		s.users[login] = u
	}
	return true, nil
}

func (s *MemoryUsers) ListRoles(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.roles))
	for name := range s.roles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryUsers) AddUser(_ context.Context, login string, attrs UserAttributes) (int64, error) {
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
	roles := normalizeRoles(attrs.Roles)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[login]; ok {
		return 0, ErrDuplicateLogin
	}
	for _, role := range roles {
		if _, ok := s.roles[role]; !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnknownRole, role)
		}
	}
	id := attrs.UserID
	if id == 0 {
		for s.idTakenLocked(s.nextID) {
			s.nextID++
		}
		id = s.nextID
		s.nextID++
	} else if s.idTakenLocked(id) {
		return 0, ErrDuplicateUserID
	}
	sort.Strings(roles)
	s.users[login] = User{
		ID:           id,
		Login:        login,
		PasswordHash: hash,
		Roles:        roles,
		CreatedAt:    time.Now().UTC(),
	}
	return id, nil
}

func (s *MemoryUsers) RemoveUser(_ context.Context, login string) (bool, error) {
	login = strings.TrimSpace(login)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[login]; !ok {
		return false, nil
	}
	delete(s.users, login)
	return true, nil
}

func (s *MemoryUsers) UserID(_ context.Context, login string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[strings.TrimSpace(login)]
	if !ok {
		return 0, ErrNotFound
	}
	return u.ID, nil
}

func (s *MemoryUsers) Authenticate(_ context.Context, login, password string) (int64, error) {
	s.mu.RLock()
	u, ok := s.users[strings.TrimSpace(login)]
	s.mu.RUnlock()
	if !ok {
		burnPasswordCheck(password)
		return 0, ErrAuthenticationFailed
	}
	if err := VerifyPassword(u.PasswordHash, password); err != nil {
		return 0, ErrAuthenticationFailed
	}
	return u.ID, nil
}

func (s *MemoryUsers) Roles(_ context.Context, userID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.userByIDLocked(userID)
	if !ok || len(u.Roles) == 0 {
		return nil, nil
	}
	out := make([]string, len(u.Roles))
	copy(out, u.Roles)
	return out, nil
}

func (s *MemoryUsers) IsUserInRole(ctx context.Context, userID int64, role string) (bool, error) {
	roles, err := s.Roles(ctx, userID)
	if err != nil {
		return false, err
	}
	return containsRole(roles, strings.TrimSpace(role)), nil
}

func (s *MemoryUsers) idTakenLocked(id int64) bool {
	_, ok := s.userByIDLocked(id)
	return ok
}

func (s *MemoryUsers) userByIDLocked(id int64) (User, bool) {
	for _, u := range s.users {
		if u.ID == id {
			return u, true
		}
	}
	return User{}, false
}

func containsRole(roles []string, role string) bool {
	if role == "" {
		return false
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
