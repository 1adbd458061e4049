package services

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// SubjectHasher turns a requester identity into an opaque, stable reference.
// The raw identity never leaves this type.
type SubjectHasher struct {
	key []byte
}

// NewSubjectHasher keys the hash with secret (1 to 64 bytes).
func NewSubjectHasher(secret string) (*SubjectHasher, error) {
	if len(secret) == 0 || len(secret) > blake2b.Size {
		return nil, fmt.Errorf("subject key must be 1-%d bytes, got %d", blake2b.Size, len(secret))
	}
	return &SubjectHasher{key: []byte(secret)}, nil
}

// Ref returns the hex keyed BLAKE2b-256 digest of the normalized identity.
func (h *SubjectHasher) Ref(identity string) (string, error) {
	norm := strings.ToLower(strings.TrimSpace(identity))
	if norm == "" {
		return "", fmt.Errorf("%w: subject is empty", ErrInvalidInput)
	}
	mac, err := blake2b.New256(h.key)
	if err != nil {
		return "", fmt.Errorf("init subject hash: %w", err)
	}
	mac.Write([]byte(norm))
	return hex.EncodeToString(mac.Sum(nil)), nil
}
