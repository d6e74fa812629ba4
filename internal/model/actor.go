package model

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ActorID identifies one replica for its whole lifetime.
// It is a lowercase hex string; comparison is plain string order, which
// matches byte order of the decoded id.
type ActorID string

// maxActorBytes bounds decoded actor ids.
const maxActorBytes = 32

// NewActorID returns a fresh random actor id (16 bytes from a UUIDv4).
func NewActorID() ActorID {
	u := uuid.New()
	return ActorID(hex.EncodeToString(u[:]))
}

// ParseActorID validates s as an actor id.
// Accepts lowercase hex with an even number of digits, 1 to 32 bytes.
func ParseActorID(s string) (ActorID, error) {
	if s == "" {
		return "", fmt.Errorf("actor id is empty")
	}
	if s != strings.ToLower(s) {
		return "", fmt.Errorf("actor id %q must be lowercase hex", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("actor id %q: %w", s, err)
	}
	if len(b) > maxActorBytes {
		return "", fmt.Errorf("actor id %q longer than %d bytes", s, maxActorBytes)
	}
	return ActorID(s), nil
}

// MustParseActorID is like ParseActorID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustParseActorID(s string) ActorID {
	a, err := ParseActorID(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Compare orders actor ids lexicographically.
func (a ActorID) Compare(b ActorID) int {
	return strings.Compare(string(a), string(b))
}

// String implements fmt.Stringer.
func (a ActorID) String() string {
	return string(a)
}

// Short returns the first 8 hex digits, for logs.
func (a ActorID) Short() string {
	if len(a) <= 8 {
		return string(a)
	}
	return string(a[:8])
}
