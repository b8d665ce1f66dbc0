package uuidv7

import "github.com/google/uuid"

// New returns a time-ordered UUIDv7 or panics if the random source fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString returns the canonical string form of a new UUIDv7.
func NewString() string {
	return New().String()
}

// Valid reports whether s parses as any RFC 4122 UUID. Identifiers are
// opaque to the store, so older versions are accepted too.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
