package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestService(t *testing.T, withRemember bool) (*Service, *MemorySessions, *MemoryUsers, *RememberTokens) {
	t.Helper()
	sessions := NewMemorySessions(NewPolicy(time.Hour))
	users := NewMemoryUsers()
	if _, err := users.AddUser(context.Background(), "alice", UserAttributes{UserID: 9478, Password: "secret"}); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	var (
		opts   []ServiceOption
		tokens *RememberTokens
	)
	if withRemember {
		var err error
		tokens, err = NewRememberTokens("test-secret", "", time.Hour)
		if err != nil {
			t.Fatalf("NewRememberTokens: %v", err)
		}
		opts = append(opts, WithRememberTokens(tokens))
	}
	svc, err := NewService(sessions, users, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, sessions, users, tokens
}

func TestServiceLoginAndLogout(t *testing.T) {
	svc, sessions, _, _ := newTestService(t, false)
	ctx := context.Background()

	res, err := svc.Login(ctx, "alice", "secret", testHostIP, false)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.UserID != 9478 || res.AuthID == "" || res.RememberToken != "" {
		t.Fatalf("unexpected login result %+v", res)
	}
	if ok, _ := sessions.IsSessionValid(ctx, res.AuthID, testHostIP); !ok {
		t.Fatalf("login did not start a live session")
	}

	if _, err := svc.Login(ctx, "alice", "wrong", testHostIP, false); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}

	if ok, err := svc.Logout(ctx, res.AuthID); err != nil || !ok {
		t.Fatalf("Logout: %v %v", ok, err)
	}
	if ok, _ := sessions.IsSessionValid(ctx, res.AuthID, testHostIP); ok {
		t.Fatalf("session survived logout")
	}
}

func TestServiceLogoutEverywhere(t *testing.T) {
	svc, sessions, _, _ := newTestService(t, false)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := svc.Login(ctx, "alice", "secret", testHostIP, false); err != nil {
			t.Fatalf("Login: %v", err)
		}
	}
	n, err := svc.LogoutEverywhere(ctx, 9478)
	if err != nil || n != 2 {
		t.Fatalf("LogoutEverywhere: %d %v", n, err)
	}
	if count, _ := sessions.CountSessions(ctx); count != 0 {
		t.Fatalf("expected no sessions left, got %d", count)
	}
}

func TestServiceRememberAndResume(t *testing.T) {
	svc, sessions, users, _ := newTestService(t, true)
	ctx := context.Background()
	if !svc.SupportsRemember() {
		t.Fatalf("remember tokens should be enabled")
	}

	res, err := svc.Login(ctx, "alice", "secret", testHostIP, true)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.RememberToken == "" || res.RememberExpiresAt.IsZero() {
		t.Fatalf("expected a remember token, got %+v", res)
	}
	if remembered, _ := sessions.WasRemembered(ctx, res.AuthID); !remembered {
		t.Fatalf("session should be flagged as remembered")
	}

	resumed, err := svc.Resume(ctx, res.RememberToken, "1.1.1.1")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.UserID != 9478 || resumed.AuthID == res.AuthID {
		t.Fatalf("unexpected resumed session %+v", resumed)
	}
	if resumed.RememberToken == "" || resumed.RememberToken == res.RememberToken {
		t.Fatalf("expected a rotated remember token")
	}

	if _, err := svc.Resume(ctx, "garbage", testHostIP); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	// The login now belongs to a different account.
	if _, err := users.RemoveUser(ctx, "alice"); err != nil {
		t.Fatalf("RemoveUser: %v", err)
	}
	if _, err := users.AddUser(ctx, "alice", UserAttributes{UserID: 1, Password: "secret"}); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if _, err := svc.Resume(ctx, res.RememberToken, testHostIP); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for reassigned login, got %v", err)
	}
}

func TestServiceResumeWithoutRememberTokens(t *testing.T) {
	svc, _, _, _ := newTestService(t, false)
	if _, err := svc.Resume(context.Background(), "anything", testHostIP); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRememberTokens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tokens, err := NewRememberTokens("s3cret", "gatehouse-test", time.Hour)
	if err != nil {
		t.Fatalf("NewRememberTokens: %v", err)
	}
	tokens.now = func() time.Time { return now }

	token, exp, err := tokens.Issue(42, "bob")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", exp)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("expected a compact JWS, got %q", token)
	}

	userID, login, err := tokens.Verify(token)
	if err != nil || userID != 42 || login != "bob" {
		t.Fatalf("Verify: %d %q %v", userID, login, err)
	}

	other, _ := NewRememberTokens("different", "gatehouse-test", time.Hour)
	other.now = tokens.now
	if _, _, err := other.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature mismatch to fail, got %v", err)
	}

	wrongIssuer, _ := NewRememberTokens("s3cret", "someone-else", time.Hour)
	wrongIssuer.now = tokens.now
	if _, _, err := wrongIssuer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected issuer mismatch to fail, got %v", err)
	}

	tokens.now = func() time.Time { return now.Add(2 * time.Hour) }
	if _, _, err := tokens.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}

	if _, err := NewRememberTokens("  ", "", 0); err == nil {
		t.Fatalf("expected error for empty secret")
	}
	if _, _, err := tokens.Issue(-1, "bob"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := ContextWithUser(context.Background(), 0)
	if id, ok := UserIDFromContext(ctx); !ok || id != 0 {
		t.Fatalf("UserIDFromContext: %d %v", id, ok)
	}
	if _, ok := AuthIDFromContext(ContextWithAuthID(context.Background(), "  ")); ok {
		t.Fatalf("blank auth id must not be stored")
	}
	if id, ok := AuthIDFromContext(ContextWithAuthID(ctx, "tok")); !ok || id != "tok" {
		t.Fatalf("AuthIDFromContext: %q %v", id, ok)
	}
}
