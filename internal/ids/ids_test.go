package ids

import "testing"

func TestNewIsValidAndUnique(t *testing.T) {
	a, b := New(), New()
	if a == b {
		t.Fatalf("expected distinct ids, got %s twice", a)
	}
	if !Valid(a) || !Valid(b) {
		t.Fatalf("expected generated ids to be valid: %s %s", a, b)
	}
	if Valid("not-a-ulid") {
		t.Fatalf("expected garbage to be rejected")
	}
}
