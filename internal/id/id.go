package id

import "github.com/google/uuid"

// New returns a random identifier for mutation requests and sessions.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s is an identifier New could have produced. Client
// supplied request ids that fail this check are replaced.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
