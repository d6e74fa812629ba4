package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainChange = "replichat/change/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeChangeHash computes the content hash of a change.
// Identical content always yields the identical hash; Hash itself is excluded.
func ComputeChangeHash(c *Change) (ChangeHash, error) {
	obj, err := c.canonical()
	if err != nil {
		return "", fmt.Errorf("ComputeChangeHash: %w", err)
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ComputeChangeHash: failed to marshal: %w", err)
	}
	return ChangeHash(hashWithDomain(DomainChange, canonical)), nil
}

// ParseChangeHash validates a 64-digit lowercase hex hash.
func ParseChangeHash(s string) (ChangeHash, error) {
	if len(s) != sha256.Size*2 {
		return "", fmt.Errorf("change hash %q: want %d hex digits", s, sha256.Size*2)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("change hash %q: %w", s, err)
	}
	return ChangeHash(s), nil
}

// Bytes returns the raw 32 hash bytes; nil if h is not valid hex.
func (h ChangeHash) Bytes() []byte {
	b, err := hex.DecodeString(string(h))
	if err != nil {
		return nil
	}
	return b
}

// Short returns a 12-digit prefix, for logs.
func (h ChangeHash) Short() string {
	return shortHash(h)
}
