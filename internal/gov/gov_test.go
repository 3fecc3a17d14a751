package gov

import (
	"errors"
	"testing"

	"VeriStake/internal/events"
	"VeriStake/internal/storage"
	"VeriStake/internal/types"
)

// testPrincipal builds a principal from a single marker byte.
func testPrincipal(b byte) types.Principal {
	var p types.Principal
	p[0] = b
	return p
}

// newTestAuthority creates an authority over fresh storage.
func newTestAuthority(t *testing.T, genesis types.Principal) (*Authority, *events.Journal, *storage.Store) {
	t.Helper()

	store, err := storage.Open(t.TempDir() + "/db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	journal, err := events.OpenJournal(store)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}

	a, err := OpenAuthority(store, journal, func() uint64 { return 1000 }, genesis)
	if err != nil {
		t.Fatalf("open authority: %v", err)
	}

	return a, journal, store
}

func TestAuthorityRequire(t *testing.T) {
	governor := testPrincipal(1)
	stranger := testPrincipal(2)

	a, _, _ := newTestAuthority(t, governor)

	if err := a.Require(governor); err != nil {
		t.Errorf("governor should pass: %v", err)
	}

	err := a.Require(stranger)
	if err == nil {
		t.Fatal("stranger should fail")
	}
	if !errors.Is(err, types.ErrAuthorization) {
		t.Errorf("error kind: got %v, want authorization", err)
	}
}

func TestAuthorityRefusesNullGenesis(t *testing.T) {
	store, err := storage.Open(t.TempDir() + "/db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	journal, err := events.OpenJournal(store)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}

	if _, err := OpenAuthority(store, journal, func() uint64 { return 0 }, types.NullPrincipal); err == nil {
		t.Error("expected error for null genesis governor")
	}
}

func TestRotateOwner(t *testing.T) {
	governor := testPrincipal(1)
	next := testPrincipal(2)

	a, journal, _ := newTestAuthority(t, governor)

	if err := a.RotateOwner(governor, next); err != nil {
		t.Fatalf("RotateOwner: %v", err)
	}

	if a.Owner() != next {
		t.Errorf("owner after rotation: got %s, want %s", a.Owner(), next)
	}
	if err := a.Require(governor); err == nil {
		t.Error("old governor should no longer pass")
	}
	if err := a.Require(next); err != nil {
		t.Errorf("new governor should pass: %v", err)
	}

	evs, err := journal.ReadSince(1, 0)
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}
	if len(evs) != 1 || evs[0].Kind != events.KindGovernorRotated {
		t.Fatalf("expected one governor-rotated event, got %+v", evs)
	}
	if evs[0].Actor != governor || evs[0].Subject != next {
		t.Errorf("event fields: actor=%s subject=%s", evs[0].Actor, evs[0].Subject)
	}
}

func TestRotateOwnerGuards(t *testing.T) {
	governor := testPrincipal(1)

	a, _, _ := newTestAuthority(t, governor)

	if err := a.RotateOwner(testPrincipal(9), testPrincipal(2)); !errors.Is(err, types.ErrAuthorization) {
		t.Errorf("non-governor rotate: got %v, want authorization error", err)
	}

	if err := a.RotateOwner(governor, types.NullPrincipal); !errors.Is(err, types.ErrValidation) {
		t.Errorf("null new owner: got %v, want validation error", err)
	}
}

func TestRotationSurvivesReopen(t *testing.T) {
	governor := testPrincipal(1)
	next := testPrincipal(2)

	dir := t.TempDir() + "/db"

	store, err := storage.Open(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	journal, _ := events.OpenJournal(store)
	a, err := OpenAuthority(store, journal, func() uint64 { return 0 }, governor)
	if err != nil {
		t.Fatalf("open authority: %v", err)
	}

	if err := a.RotateOwner(governor, next); err != nil {
		t.Fatalf("RotateOwner: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	store2, err := storage.Open(dir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { store2.Close() })

	journal2, _ := events.OpenJournal(store2)

	// The old genesis value must not reset the rotated owner.
	a2, err := OpenAuthority(store2, journal2, func() uint64 { return 0 }, governor)
	if err != nil {
		t.Fatalf("reopen authority: %v", err)
	}

	if a2.Owner() != next {
		t.Errorf("owner after reopen: got %s, want %s", a2.Owner(), next)
	}
}

func TestCallRegistry(t *testing.T) {
	r := NewCallRegistry()

	var gotPayload []byte
	var gotValue uint64

	id := r.Register("test/echo", func(payload []byte, value uint64) ([]byte, error) {
		gotPayload = payload
		gotValue = value
		return []byte("ok"), nil
	})

	if id != TargetID("test/echo") {
		t.Error("Register should return the derived target id")
	}
	if r.Name(id) != "test/echo" {
		t.Errorf("Name: got %q, want %q", r.Name(id), "test/echo")
	}

	out, err := r.Call(id, []byte("payload"), 7)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(out) != "ok" || string(gotPayload) != "payload" || gotValue != 7 {
		t.Errorf("callable saw payload=%q value=%d out=%q", gotPayload, gotValue, out)
	}
}

func TestCallRegistryUnknownTarget(t *testing.T) {
	r := NewCallRegistry()

	_, err := r.Call(testPrincipal(5), nil, 0)
	if err == nil {
		t.Fatal("expected error for unknown target")
	}
	if !errors.Is(err, types.ErrExternalCall) {
		t.Errorf("error kind: got %v, want external call", err)
	}
}

func TestSetWeightsPayloadRoundTrip(t *testing.T) {
	weights := []uint64{10000, 2500, 7500}

	decoded, err := DecodeSetWeights(EncodeSetWeights(weights))
	if err != nil {
		t.Fatalf("DecodeSetWeights: %v", err)
	}

	if len(decoded) != len(weights) {
		t.Fatalf("got %d weights, want %d", len(decoded), len(weights))
	}
	for i := range weights {
		if decoded[i] != weights[i] {
			t.Errorf("weight %d: got %d, want %d", i, decoded[i], weights[i])
		}
	}

	if _, err := DecodeSetWeights([]byte{1, 2}); err == nil {
		t.Error("expected error for short payload")
	}
	if _, err := DecodeSetWeights([]byte{2, 0, 0, 0, 1}); err == nil {
		t.Error("expected error for truncated weights")
	}
}

func TestSlashPayloadRoundTrip(t *testing.T) {
	id := testPrincipal(3)
	recipient := testPrincipal(4)

	gotID, gotAmount, gotRecipient, err := DecodeSlash(EncodeSlash(id, 600, recipient))
	if err != nil {
		t.Fatalf("DecodeSlash: %v", err)
	}

	if gotID != id || gotAmount != 600 || gotRecipient != recipient {
		t.Errorf("got id=%s amount=%d recipient=%s", gotID, gotAmount, gotRecipient)
	}

	if _, _, _, err := DecodeSlash([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for short payload")
	}
}

func TestPrincipalPayloadRoundTrip(t *testing.T) {
	p := testPrincipal(8)

	got, err := DecodePrincipal(EncodePrincipal(p))
	if err != nil {
		t.Fatalf("DecodePrincipal: %v", err)
	}
	if got != p {
		t.Errorf("got %s, want %s", got, p)
	}

	if _, err := DecodePrincipal([]byte{1}); err == nil {
		t.Error("expected error for short payload")
	}
}
