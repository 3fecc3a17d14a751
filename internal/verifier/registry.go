// Package verifier manages the set of trusted proof verifiers and
// routes verification calls to them. Which backend actually checks a
// proof is resolved per call, so backends can be swapped without
// touching the callers. Entries are soft-deleted: disabling keeps the
// record and a later add re-enables it.
package verifier

import (
	"encoding/binary"
	"sync"

	"VeriStake/internal/events"
	"VeriStake/internal/gov"
	"VeriStake/internal/logger"
	"VeriStake/internal/storage"
	"VeriStake/internal/types"
)

var prefixVerifier = []byte("w:") // "w:" + id -> entry

// Entry is the stored state of one verifier.
type Entry struct {
	Enabled   bool   // Enabled gates verifyWith calls
	AddedAt   uint64 // AddedAt is unix seconds of the last enable
	RemovedAt uint64 // RemovedAt is unix seconds of the last disable, 0 if never
}

func encodeEntry(e Entry) []byte {
	buf := make([]byte, 17)
	if e.Enabled {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint64(buf[1:9], e.AddedAt)
	binary.LittleEndian.PutUint64(buf[9:17], e.RemovedAt)

	return buf
}

func decodeEntry(data []byte) (Entry, error) {
	if len(data) != 17 {
		return Entry{}, types.Statef("verifier entry corrupt: %d bytes", len(data))
	}

	return Entry{
		Enabled:   data[0] == 1,
		AddedAt:   binary.LittleEndian.Uint64(data[1:9]),
		RemovedAt: binary.LittleEndian.Uint64(data[9:17]),
	}, nil
}

func entryKey(id types.Principal) []byte {
	return append(append([]byte(nil), prefixVerifier...), id[:]...)
}

// Delegate is a verification capability: it checks an opaque proof
// against opaque public inputs and returns the verdict.
type Delegate interface {
	Verify(proof, publicInputs []byte) (bool, error)
}

// DelegateFunc adapts a plain function to the Delegate interface.
type DelegateFunc func(proof, publicInputs []byte) (bool, error)

func (f DelegateFunc) Verify(proof, publicInputs []byte) (bool, error) {
	return f(proof, publicInputs)
}

// Resolver maps a verifier id to its delegate at call time.
type Resolver interface {
	Resolve(id types.Principal) (Delegate, error)
}

// Registry decides which verifier ids are trusted and dispatches
// verification to whatever delegate the resolver currently binds them
// to.
type Registry struct {
	store     *storage.Store
	journal   *events.Journal
	authority *gov.Authority
	resolver  Resolver
	now       func() uint64
	writeMu   *sync.Mutex
}

func NewRegistry(store *storage.Store, journal *events.Journal, authority *gov.Authority, resolver Resolver, now func() uint64, writeMu *sync.Mutex) *Registry {
	return &Registry{
		store:     store,
		journal:   journal,
		authority: authority,
		resolver:  resolver,
		now:       now,
		writeMu:   writeMu,
	}
}

// Add enables a verifier, creating the entry if it never existed. Only
// the governor may call it.
func (r *Registry) Add(caller, id types.Principal) error {
	if err := r.authority.Require(caller); err != nil {
		return err
	}
	if id.IsNull() {
		return types.Validationf("null verifier id")
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	entry, _, err := r.load(id)
	if err != nil {
		return err
	}
	if entry.Enabled {
		return types.Statef("verifier %s already enabled", id)
	}

	entry.Enabled = true
	entry.AddedAt = r.now()

	var batch storage.Batch
	batch.Set(entryKey(id), encodeEntry(entry))

	_, err = r.journal.Commit(&batch, events.Event{
		Kind:      events.KindVerifierAdded,
		Timestamp: entry.AddedAt,
		Actor:     caller,
		Subject:   id,
	})
	if err != nil {
		return err
	}

	logger.Info("verifier enabled", "verifier", id)

	return nil
}

// Remove disables a verifier but keeps its record, so a later Add
// re-enables it. Only the governor may call it.
func (r *Registry) Remove(caller, id types.Principal) error {
	if err := r.authority.Require(caller); err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	entry, exists, err := r.load(id)
	if err != nil {
		return err
	}
	if !exists || !entry.Enabled {
		return types.Statef("verifier %s is not enabled", id)
	}

	entry.Enabled = false
	entry.RemovedAt = r.now()

	var batch storage.Batch
	batch.Set(entryKey(id), encodeEntry(entry))

	_, err = r.journal.Commit(&batch, events.Event{
		Kind:      events.KindVerifierRemoved,
		Timestamp: entry.RemovedAt,
		Actor:     caller,
		Subject:   id,
	})
	if err != nil {
		return err
	}

	logger.Info("verifier disabled", "verifier", id)

	return nil
}

// Verify routes a proof to the named verifier and returns its verdict
// unchanged. The id must be enabled at call time; resolution happens
// per call, after the enabled check.
func (r *Registry) Verify(id types.Principal, proof, publicInputs []byte) (bool, error) {
	entry, exists, err := r.load(id)
	if err != nil {
		return false, err
	}
	if !exists || !entry.Enabled {
		return false, types.Authorizationf("verifier %s is not enabled", id)
	}

	delegate, err := r.resolver.Resolve(id)
	if err != nil {
		return false, types.ExternalCallf("resolve verifier %s: %v", id, err)
	}

	ok, err := delegate.Verify(proof, publicInputs)
	if err != nil {
		return false, types.ExternalCallf("verifier %s: %v", id, err)
	}

	return ok, nil
}

// Info returns the stored entry and whether it exists at all.
func (r *Registry) Info(id types.Principal) (Entry, bool, error) {
	return r.load(id)
}

func (r *Registry) load(id types.Principal) (Entry, bool, error) {
	data, err := r.store.Get(entryKey(id))
	if err != nil {
		return Entry{}, false, err
	}
	if data == nil {
		return Entry{}, false, nil
	}

	entry, err := decodeEntry(data)
	if err != nil {
		return Entry{}, false, err
	}

	return entry, true, nil
}
