package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gatehouse.dev/internal/obs"
)

// Service runs the login, logout and remember-me flows on top of the stores.
type Service struct {
	sessions SessionStore
	users    CredentialsStore
	remember *RememberTokens
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithRememberTokens enables remember-me tokens on login and Resume.
func WithRememberTokens(tokens *RememberTokens) ServiceOption {
	return func(s *Service) error {
		s.remember = tokens
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(sessions SessionStore, users CredentialsStore, opts ...ServiceOption) (*Service, error) {
	if sessions == nil || users == nil {
		return nil, errors.New("auth: session and credentials stores are required")
	}
	svc := &Service{sessions: sessions, users: users}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// LoginResult describes a freshly started session.
type LoginResult struct {
	AuthID            string
	UserID            int64
	RememberToken     string
	RememberExpiresAt time.Time
}

// SupportsRemember reports whether remember-me tokens are enabled.
func (s *Service) SupportsRemember() bool { return s.remember != nil }

// Login authenticates the credentials and starts a session bound to hostIP.
// Bad credentials yield ErrAuthenticationFailed whatever the cause.
func (s *Service) Login(ctx context.Context, login, password, hostIP string, remember bool) (LoginResult, error) {
	userID, err := s.users.Authenticate(ctx, login, password)
	if err != nil {
		if errors.Is(err, ErrAuthenticationFailed) {
			obs.RecordAuthFailure()
		}
		return LoginResult{}, err
	}
	return s.start(ctx, userID, login, hostIP, remember)
}

// Resume exchanges a remember-me token for a new session and a rotated token.
func (s *Service) Resume(ctx context.Context, token, hostIP string) (LoginResult, error) {
	if s.remember == nil {
		return LoginResult{}, ErrInvalidToken
	}
	userID, login, err := s.remember.Verify(token)
	if err != nil {
		return LoginResult{}, err
	}
	current, err := s.users.UserID(ctx, login)
	if errors.Is(err, ErrNotFound) {
		return LoginResult{}, ErrInvalidToken
	}
	if err != nil {
		return LoginResult{}, err
	}
	if current != userID {
		return LoginResult{}, ErrInvalidToken
	}
	return s.start(ctx, userID, login, hostIP, true)
}

// Logout erases the session. It reports whether a session existed.
func (s *Service) Logout(ctx context.Context, authID string) (bool, error) {
	return s.sessions.EraseSession(ctx, authID)
}

// LogoutEverywhere erases every session of the user.
func (s *Service) LogoutEverywhere(ctx context.Context, userID int64) (int64, error) {
	return s.sessions.EraseUserSessions(ctx, userID)
}

func (s *Service) start(ctx context.Context, userID int64, login, hostIP string, remember bool) (LoginResult, error) {
	authID, err := s.sessions.StartSession(ctx, userID, hostIP, remember)
	if err != nil {
		return LoginResult{}, err
	}
	obs.RecordSessionStarted(remember)
	res := LoginResult{AuthID: authID, UserID: userID}
	if remember && s.remember != nil {
		token, exp, err := s.remember.Issue(userID, login)
		if err != nil {
			return LoginResult{}, fmt.Errorf("auth: issue remember token: %w", err)
		}
		res.RememberToken = token
		res.RememberExpiresAt = exp
	}
	return res, nil
}
