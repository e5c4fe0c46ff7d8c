package auth

import (
	"context"
	"fmt"
	"sync"
)

var _ SessionStore = (*MemorySessions)(nil)

// MemorySessions keeps sessions in process memory. It backs single-node
// deployments without a database and the validator tests.
type MemorySessions struct {
	*Policy

	mu        sync.RWMutex
	sessions  map[string]Session
	installed bool
}

func NewMemorySessions(policy *Policy) *MemorySessions {
	if policy == nil {
		policy = NewPolicy(DefaultSessionDuration)
	}
	return &MemorySessions{Policy: policy, sessions: make(map[string]Session)}
}

func (s *MemorySessions) Install(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.installed {
		return storageErr("install sessions", ErrAlreadyInstalled)
	}
	s.installed = true
	return nil
}

func (s *MemorySessions) Remove(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]Session)
	s.installed = false
	return nil
}

func (s *MemorySessions) StartSession(_ context.Context, userID int64, hostIP string, remember bool) (string, error) {
	if userID < 0 {
		return "", fmt.Errorf("%w: user id must not be negative", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		authID, err := newAuthID()
		if err != nil {
			return "", fmt.Errorf("auth: generate session id: %w", err)
		}
		if _, taken := s.sessions[authID]; taken {
			continue
		}
		s.sessions[authID] = Session{
			AuthID:     authID,
			UserID:     userID,
			HostIP:     hostIP,
			CreatedAt:  s.Now(),
			Remembered: remember,
		}
		return authID, nil
	}
	return "", storageErr("start session", fmt.Errorf("no unique session id after %d attempts", maxTokenAttempts))
}

func (s *MemorySessions) IsSessionValid(_ context.Context, authID, hostIP string) (bool, error) {
	s.mu.RLock()
	sess, ok := s.sessions[authID]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return s.valid(sess, hostIP), nil
}

func (s *MemorySessions) ContinueSession(_ context.Context, authID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[authID]
	if !ok {
		return false, nil
	}
	now := s.Now()
	if s.expired(sess.CreatedAt, now) {
		return false, nil
	}
	sess.CreatedAt = now
	s.sessions[authID] = sess
	return true, nil
}

func (s *MemorySessions) SessionUserID(_ context.Context, authID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[authID]
	if !ok {
		return 0, ErrNotFound
	}
	return sess.UserID, nil
}

func (s *MemorySessions) WasRemembered(_ context.Context, authID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[authID].Remembered, nil
}

func (s *MemorySessions) EraseSession(_ context.Context, authID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[authID]; !ok {
		return false, nil
	}
	delete(s.sessions, authID)
	return true, nil
}

func (s *MemorySessions) EraseUserSessions(_ context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *MemorySessions) EraseAllSessions(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]Session)
	return nil
}

func (s *MemorySessions) PurgeSessions(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	var n int64
	for id, sess := range s.sessions {
		if s.expired(sess.CreatedAt, now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *MemorySessions) CountSessions(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.Now()
	var n int64
	for _, sess := range s.sessions {
		if !s.expired(sess.CreatedAt, now) {
			n++
		}
	}
	return n, nil
}
