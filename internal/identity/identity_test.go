package identity

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// TestSignVerify tests basic sign and verify.
func TestSignVerify(t *testing.T) {
	key, err := Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	message := []byte("attest me")
	signature := key.Sign(message)

	if len(signature) != SignatureSize {
		t.Errorf("signature size: got %d, want %d", len(signature), SignatureSize)
	}

	if !Verify(signature, message, key.PublicKeyBytes()) {
		t.Error("valid signature should verify")
	}
}

// TestVerifyWrongMessage tests verification with the wrong message.
func TestVerifyWrongMessage(t *testing.T) {
	key, err := Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	signature := key.Sign([]byte("original"))

	if Verify(signature, []byte("tampered"), key.PublicKeyBytes()) {
		t.Error("signature should not verify with wrong message")
	}
}

// TestVerifyWrongKey tests verification with the wrong key.
func TestVerifyWrongKey(t *testing.T) {
	key1, _ := Generate()
	key2, _ := Generate()

	message := []byte("attest me")
	signature := key1.Sign(message)

	if Verify(signature, message, key2.PublicKeyBytes()) {
		t.Error("signature should not verify with wrong key")
	}
}

// TestDeterministicKey tests that a seed produces a deterministic key
// and a stable principal.
func TestDeterministicKey(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}

	key1, _ := FromSeed(seed)
	key2, _ := FromSeed(seed)

	if !bytes.Equal(key1.PublicKeyBytes(), key2.PublicKeyBytes()) {
		t.Error("same seed should produce same key")
	}
	if key1.Principal() != key2.Principal() {
		t.Error("same seed should produce same principal")
	}
}

// TestPrincipalNotNull tests that derived principals are never the
// null identity.
func TestPrincipalNotNull(t *testing.T) {
	key, err := Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	if key.Principal().IsNull() {
		t.Error("derived principal should not be null")
	}
}

// TestLoadOrCreate tests key persistence across loads.
func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")

	key1, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("first LoadOrCreate: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key file mode: got %o, want 0600", info.Mode().Perm())
	}

	key2, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("second LoadOrCreate: %v", err)
	}

	if !bytes.Equal(key1.PublicKeyBytes(), key2.PublicKeyBytes()) {
		t.Error("reloaded key should match the created one")
	}
}

// TestLoadOrCreateRejectsShortFile tests that a truncated key file is
// refused rather than silently regenerated.
func TestLoadOrCreateRejectsShortFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")

	if err := os.WriteFile(path, []byte("short"), 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, err := LoadOrCreate(path); err == nil {
		t.Error("expected error for truncated key file")
	}
}
