package pg

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "authuser_login_key"})
	constraint, ok := UniqueViolation(err)
	if !ok || constraint != "authuser_login_key" {
		t.Fatalf("expected unique violation on authuser_login_key, got %q ok=%v", constraint, ok)
	}
	if _, ok := UniqueViolation(errors.New("boom")); ok {
		t.Fatalf("plain error must not be a unique violation")
	}
	if _, ok := UniqueViolation(&pgconn.PgError{Code: "23503"}); ok {
		t.Fatalf("foreign key violation must not be a unique violation")
	}
}

func TestDuplicateTable(t *testing.T) {
	if !DuplicateTable(fmt.Errorf("create: %w", &pgconn.PgError{Code: "42P07"})) {
		t.Fatalf("expected duplicate table")
	}
	if DuplicateTable(&pgconn.PgError{Code: "42P01"}) {
		t.Fatalf("undefined table is not a duplicate table")
	}
	if DuplicateTable(nil) {
		t.Fatalf("nil is not a duplicate table error")
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(context.Background(), "  ", DefaultPool()); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}
