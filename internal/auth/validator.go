package auth

import (
	"context"
	"errors"
	"time"

	"gatehouse.dev/internal/obs"
)

// Result is the outcome of ValidateSession. A valid result carries the
// session's user id.
type Result struct {
	UserID int64
	valid  bool
}

// SessionInvalid is returned for unknown, expired, host-mismatched and
// role-denied sessions alike, so callers cannot tell the causes apart.
var SessionInvalid = Result{}

func (r Result) Valid() bool { return r.valid }

// Validator decides whether a session grants access. It keeps no state
// between calls; everything is read from the stores.
type Validator struct {
	sessions SessionStore
	users    CredentialsStore
}

func NewValidator(sessions SessionStore, users CredentialsStore) (*Validator, error) {
	if sessions == nil {
		return nil, errors.New("auth: session store is required")
	}
	if users == nil {
		return nil, errors.New("auth: credentials store is required")
	}
	return &Validator{sessions: sessions, users: users}, nil
}

// ValidateSession checks authID against hostIP and the requested attributes.
// Store failures are returned as *ValidationError and never reported as
// SessionInvalid.
func (v *Validator) ValidateSession(ctx context.Context, authID, hostIP string, attrs SessionAttributes) (Result, error) {
	start := time.Now()
	res, err := v.validate(ctx, authID, hostIP, attrs)
	switch {
	case err != nil:
		obs.RecordValidation(obs.OutcomeError, start)
		obs.Log("error", "session validation failed", map[string]any{"error": err.Error()})
	case res.valid:
		obs.RecordValidation(obs.OutcomeValid, start)
	default:
		obs.RecordValidation(obs.OutcomeInvalid, start)
	}
	return res, err
}

// IsAccessAuthorized reports whether res grants access.
func (v *Validator) IsAccessAuthorized(res Result) bool {
	return res.valid
}

func (v *Validator) validate(ctx context.Context, authID, hostIP string, attrs SessionAttributes) (Result, error) {
	if authID == "" {
		return SessionInvalid, nil
	}
	ok, err := v.sessions.IsSessionValid(ctx, authID, hostIP)
	if err != nil {
		return SessionInvalid, &ValidationError{Op: "check session", Err: err}
	}
	if !ok {
		return SessionInvalid, nil
	}

	userID, err := v.sessions.SessionUserID(ctx, authID)
	if errors.Is(err, ErrNotFound) {
		// erased between the two lookups
		return SessionInvalid, nil
	}
	if err != nil {
		return SessionInvalid, &ValidationError{Op: "lookup session user", Err: err}
	}

	if attrs != nil && attrs.HasAttribute(AttributeRole) {
		roles, err := v.users.Roles(ctx, userID)
		if err != nil {
			return SessionInvalid, &ValidationError{Op: "load roles", Err: err}
		}
		if !containsRole(roles, attrs.Attribute(AttributeRole)) {
			return SessionInvalid, nil
		}
	}
	return Result{UserID: userID, valid: true}, nil
}
