package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("auth: not found")
	ErrInvalidInput         = errors.New("auth: invalid input")
	ErrDuplicateLogin       = errors.New("auth: login already exists")
	ErrDuplicateUserID      = errors.New("auth: user id already exists")
	ErrDuplicateRole        = errors.New("auth: role already exists")
	ErrUnknownRole          = errors.New("auth: unknown role")
	ErrAuthenticationFailed = errors.New("auth: authentication failed")
	ErrInvalidToken         = errors.New("auth: invalid token")
	ErrAlreadyInstalled     = errors.New("auth: store already installed")
)

// StorageError reports a connectivity or integrity failure inside a store
// operation. It is fatal to the calling request and never retried here.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("auth: storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// ValidationError signals that the validator could not reach a decision
// because a store failed. Callers must treat it differently from a denied session.
type ValidationError struct {
	Op  string
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("auth: session validation failed during %s: %v", e.Op, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
