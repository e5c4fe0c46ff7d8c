package ids

import "github.com/oklog/ulid/v2"

// New returns a lexicographically sortable identifier suitable for request and audit ids.
func New() string {
	return ulid.Make().String()
}

// Valid reports whether s is a well-formed identifier, so inbound request ids
// can be propagated instead of replaced.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
