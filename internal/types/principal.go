package types

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// Principal is the 32-byte identity of an actor on the platform:
// an attestor, a subject, a verifier, a call target or the governor.
type Principal [32]byte

// Hash is a 32-byte digest (operation ids, feature hashes, module ids).
type Hash [32]byte

// NullPrincipal is the zero identity. It is never a valid actor and
// doubles as the "no data" sentinel in query results.
var NullPrincipal Principal

// IsNull reports whether p is the zero identity.
func (p Principal) IsNull() bool {
	return p == NullPrincipal
}

// String renders the principal as base58 for logs and APIs.
func (p Principal) String() string {
	return base58.Encode(p[:])
}

// ParsePrincipal decodes a base58 principal string.
func ParsePrincipal(s string) (Principal, error) {
	var p Principal

	raw, err := base58.Decode(s)
	if err != nil {
		return p, fmt.Errorf("decode principal: %w", err)
	}
	if len(raw) != len(p) {
		return p, fmt.Errorf("decode principal: got %d bytes, want %d", len(raw), len(p))
	}

	copy(p[:], raw)
	return p, nil
}

// String renders the hash as base58.
func (h Hash) String() string {
	return base58.Encode(h[:])
}

// ParseHash decodes a base58 hash string.
func ParseHash(s string) (Hash, error) {
	var h Hash

	raw, err := base58.Decode(s)
	if err != nil {
		return h, fmt.Errorf("decode hash: %w", err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("decode hash: got %d bytes, want %d", len(raw), len(h))
	}

	copy(h[:], raw)
	return h, nil
}
