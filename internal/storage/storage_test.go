package storage

import (
	"bytes"
	"fmt"
	"testing"
)

// newTestStore creates a temporary store for testing.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(t.TempDir() + "/db")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	t.Cleanup(func() { s.Close() })

	return s
}

func TestSetAndGet(t *testing.T) {
	s := newTestStore(t)

	key := []byte("test-key")
	value := []byte("test-value")

	if err := s.Set(key, value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if !bytes.Equal(got, value) {
		t.Errorf("Get returned %q, want %q", got, value)
	}
}

func TestGetNonExistent(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Get([]byte("non-existent"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got != nil {
		t.Errorf("Get returned %q, want nil", got)
	}
}

func TestHas(t *testing.T) {
	s := newTestStore(t)

	ok, err := s.Has([]byte("missing"))
	if err != nil {
		t.Fatalf("Has failed: %v", err)
	}
	if ok {
		t.Error("Has returned true for missing key")
	}

	if err := s.Set([]byte("present"), []byte("x")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	ok, err = s.Has([]byte("present"))
	if err != nil {
		t.Fatalf("Has failed: %v", err)
	}
	if !ok {
		t.Error("Has returned false for present key")
	}
}

func TestBatchCommit(t *testing.T) {
	s := newTestStore(t)

	var b Batch
	for i := 0; i < 3; i++ {
		b.Set([]byte(fmt.Sprintf("batch-%d", i)), []byte(fmt.Sprintf("value-%d", i)))
	}

	if b.Len() != 3 {
		t.Fatalf("batch has %d pairs, want 3", b.Len())
	}

	if err := s.Commit(&b); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		got, err := s.Get([]byte(fmt.Sprintf("batch-%d", i)))
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		want := []byte(fmt.Sprintf("value-%d", i))
		if !bytes.Equal(got, want) {
			t.Errorf("Get(batch-%d) = %q, want %q", i, got, want)
		}
	}
}

func TestSetOverwrite(t *testing.T) {
	s := newTestStore(t)

	key := []byte("overwrite-key")

	if err := s.Set(key, []byte("first")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := s.Set(key, []byte("second")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if !bytes.Equal(got, []byte("second")) {
		t.Errorf("Get returned %q, want %q", got, "second")
	}
}

func TestIteratePrefix(t *testing.T) {
	s := newTestStore(t)

	var b Batch
	b.Set([]byte("a:1"), []byte("in-1"))
	b.Set([]byte("a:2"), []byte("in-2"))
	b.Set([]byte("b:1"), []byte("out"))

	if err := s.Commit(&b); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	var keys []string
	err := s.IteratePrefix([]byte("a:"), func(key, value []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("IteratePrefix failed: %v", err)
	}

	if len(keys) != 2 {
		t.Fatalf("visited %d keys, want 2: %v", len(keys), keys)
	}
	if keys[0] != "a:1" || keys[1] != "a:2" {
		t.Errorf("wrong keys or order: %v", keys)
	}
}

func TestPrefixEnd(t *testing.T) {
	got := PrefixEnd([]byte{'a', ':'})
	if !bytes.Equal(got, []byte{'a', ';'}) {
		t.Errorf("upper bound = %v, want %v", got, []byte{'a', ';'})
	}

	got = PrefixEnd([]byte{0xFF, 0xFF})
	if got != nil {
		t.Errorf("upper bound for all-0xFF = %v, want nil", got)
	}

	got = PrefixEnd([]byte{'a', 0xFF})
	if !bytes.Equal(got, []byte{'b', 0x00}) {
		t.Errorf("upper bound = %v, want %v", got, []byte{'b', 0x00})
	}
}
