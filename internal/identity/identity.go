package identity

import (
	"crypto/rand"
	"fmt"
	"os"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/zeebo/blake3"

	"VeriStake/internal/types"
)

const (
	// PublicKeySize is the size of a compressed BLS public key in bytes.
	PublicKeySize = 48

	// SignatureSize is the size of a compressed BLS signature in bytes.
	SignatureSize = 96

	// seedSize is the size of the stored key seed in bytes.
	seedSize = 32
)

// dst is the domain separation tag for platform signatures.
var dst = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// principalTag domain-separates principal derivation from other
// blake3 uses of the public key.
var principalTag = []byte("veristake-principal")

// KeyPair holds a BLS private/public key pair. The principal identity
// of the holder is the blake3 digest of the compressed public key.
type KeyPair struct {
	secret *blst.SecretKey // secret is the private key
	public *blst.P1Affine  // public is the public key
}

// Generate creates a new key pair from a random seed.
func Generate() (*KeyPair, error) {
	var ikm [seedSize]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, fmt.Errorf("generate random seed:\n%w", err)
	}

	return FromSeed(ikm[:])
}

// FromSeed creates a key pair from a deterministic seed.
// The seed must be at least 32 bytes.
func FromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) < seedSize {
		return nil, fmt.Errorf("seed must be at least %d bytes", seedSize)
	}

	secret := blst.KeyGen(seed)
	if secret == nil {
		return nil, fmt.Errorf("failed to generate key")
	}

	return &KeyPair{
		secret: secret,
		public: new(blst.P1Affine).From(secret),
	}, nil
}

// LoadOrCreate reads a 32-byte seed file, creating one with a fresh
// random seed if the file does not exist. The file is written 0600.
func LoadOrCreate(path string) (*KeyPair, error) {
	seed, err := os.ReadFile(path)
	if err == nil {
		if len(seed) != seedSize {
			return nil, fmt.Errorf("key file %s: got %d bytes, want %d", path, len(seed), seedSize)
		}
		return FromSeed(seed)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	var ikm [seedSize]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, fmt.Errorf("generate random seed:\n%w", err)
	}

	if err := os.WriteFile(path, ikm[:], 0600); err != nil {
		return nil, fmt.Errorf("write key file:\n%w", err)
	}

	return FromSeed(ikm[:])
}

// Sign creates a signature over the message.
func (k *KeyPair) Sign(message []byte) []byte {
	sig := new(blst.P2Affine).Sign(k.secret, message, dst)
	return sig.Compress()
}

// PublicKeyBytes returns the compressed public key bytes.
func (k *KeyPair) PublicKeyBytes() []byte {
	return k.public.Compress()
}

// Principal returns the platform identity of this key pair.
func (k *KeyPair) Principal() types.Principal {
	return PrincipalOf(k.PublicKeyBytes())
}

// PrincipalOf derives the platform identity bound to a public key.
func PrincipalOf(publicKey []byte) types.Principal {
	h := blake3.New()
	h.Write(principalTag)
	h.Write(publicKey)

	var p types.Principal
	h.Sum(p[:0])

	return p
}

// Verify checks a signature against a message and public key.
func Verify(signature, message, publicKey []byte) bool {
	if len(signature) != SignatureSize || len(publicKey) != PublicKeySize {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(signature)
	if sig == nil {
		return false
	}

	pk := new(blst.P1Affine).Uncompress(publicKey)
	if pk == nil {
		return false
	}

	return sig.Verify(true, pk, true, message, dst)
}
