package identity

import (
	"github.com/zeebo/blake3"

	"VeriStake/internal/types"
)

// envelopeTag domain-separates envelope digests from raw signatures.
var envelopeTag = []byte("veristake-envelope")

// Envelope authenticates one mutating request. The body is opaque to
// this package; the kind string binds the signature to one operation
// so a deposit envelope cannot be replayed as a withdrawal.
type Envelope struct {
	Kind      string `json:"kind"`       // Kind names the operation, e.g. "stake/deposit"
	Body      []byte `json:"body"`       // Body is the operation payload
	PublicKey []byte `json:"public_key"` // PublicKey is the signer's compressed key
	Signature []byte `json:"signature"`  // Signature covers digest(Kind, Body)
}

// envelopeDigest computes the signed digest for a kind and body.
func envelopeDigest(kind string, body []byte) []byte {
	h := blake3.New()
	h.Write(envelopeTag)
	h.Write([]byte(kind))
	h.Write(body)

	return h.Sum(nil)
}

// Seal signs a body under the given kind, producing an envelope the
// server can attribute to this key pair's principal.
func (k *KeyPair) Seal(kind string, body []byte) Envelope {
	return Envelope{
		Kind:      kind,
		Body:      body,
		PublicKey: k.PublicKeyBytes(),
		Signature: k.Sign(envelopeDigest(kind, body)),
	}
}

// Open verifies the envelope for the expected kind and returns the
// signer's principal. A kind mismatch, malformed key or bad signature
// is an AuthorizationError.
func (e Envelope) Open(expectKind string) (types.Principal, error) {
	if e.Kind != expectKind {
		return types.NullPrincipal, types.Authorizationf("envelope kind %q, want %q", e.Kind, expectKind)
	}
	if len(e.PublicKey) != PublicKeySize {
		return types.NullPrincipal, types.Authorizationf("public key is %d bytes, want %d", len(e.PublicKey), PublicKeySize)
	}
	if !Verify(e.Signature, envelopeDigest(e.Kind, e.Body), e.PublicKey) {
		return types.NullPrincipal, types.Authorizationf("signature verification failed")
	}

	return PrincipalOf(e.PublicKey), nil
}
