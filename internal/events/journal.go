package events

import (
	"encoding/binary"
	"fmt"
	"sync"

	"VeriStake/internal/logger"
	"VeriStake/internal/storage"
)

// Key layout:
//
//	e:<seq BE u64>  -> event flatbuffer
//	m:eventHead     -> BE u64, last assigned sequence
var (
	prefixEvent = []byte("e:")
	keyHead     = []byte("m:eventHead")
)

// makeEventKey builds the storage key for a sequence number.
func makeEventKey(seq uint64) []byte {
	key := make([]byte, len(prefixEvent)+8)
	copy(key, prefixEvent)
	binary.BigEndian.PutUint64(key[len(prefixEvent):], seq)

	return key
}

// Journal is the append-only event log and the single commit point for
// every mutating operation. Components stage their state writes into a
// batch, attach the events describing the change, and hand both to
// Commit; the commit lock serializes all platform mutations, so no
// reader ever observes a sequence gap or a state write without its
// event.
type Journal struct {
	store *storage.Store
	mu    sync.Mutex // mu is the platform-wide commit lock
	head  uint64     // head is the last assigned sequence, 0 when empty

	subMu   sync.RWMutex
	subs    map[uint64]chan Event
	nextSub uint64
}

// OpenJournal loads the journal head from the store.
func OpenJournal(store *storage.Store) (*Journal, error) {
	j := &Journal{
		store: store,
		subs:  make(map[uint64]chan Event),
	}

	raw, err := store.Get(keyHead)
	if err != nil {
		return nil, fmt.Errorf("load journal head:\n%w", err)
	}
	if raw != nil {
		if len(raw) != 8 {
			return nil, fmt.Errorf("journal head: got %d bytes, want 8", len(raw))
		}
		j.head = binary.BigEndian.Uint64(raw)
	}

	return j, nil
}

// Head returns the last assigned sequence, 0 if the journal is empty.
func (j *Journal) Head() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.head
}

// Commit assigns sequences and idempotency keys to the events, stages
// them into the batch alongside the caller's state writes, and commits
// everything atomically. The returned events carry their assigned
// sequences. Live subscribers are notified after the commit lands.
func (j *Journal) Commit(batch *storage.Batch, evs ...Event) ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	seq := j.head
	out := make([]Event, len(evs))

	for i, e := range evs {
		seq++
		e.Seq = seq
		e.UUID = deriveUUID(e)
		batch.Set(makeEventKey(seq), Encode(e))
		out[i] = e
	}

	if seq != j.head {
		var headBuf [8]byte
		binary.BigEndian.PutUint64(headBuf[:], seq)
		batch.Set(keyHead, headBuf[:])
	}

	if err := j.store.Commit(batch); err != nil {
		return nil, fmt.Errorf("commit batch:\n%w", err)
	}

	j.head = seq
	j.notify(out)

	return out, nil
}

// ReadSince returns up to limit events with sequence >= from, in
// order. limit <= 0 means no limit.
func (j *Journal) ReadSince(from uint64, limit int) ([]Event, error) {
	if from == 0 {
		from = 1
	}

	var out []Event
	err := j.store.IterateRange(makeEventKey(from), storage.PrefixEnd(prefixEvent), func(key, value []byte) error {
		e, err := Decode(value)
		if err != nil {
			return err
		}

		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			return errStopIterate
		}

		return nil
	})
	if err != nil && err != errStopIterate {
		return nil, fmt.Errorf("read events:\n%w", err)
	}

	return out, nil
}

// errStopIterate ends a range read early once the limit is reached.
var errStopIterate = fmt.Errorf("stop iterate")

// Subscribe registers a live event channel with the given buffer.
// A subscriber that falls behind has events dropped rather than
// blocking commits; it is expected to detect the sequence gap and
// catch up through ReadSince. The returned cancel function must be
// called exactly once.
func (j *Journal) Subscribe(buffer int) (<-chan Event, func()) {
	j.subMu.Lock()
	defer j.subMu.Unlock()

	id := j.nextSub
	j.nextSub++

	ch := make(chan Event, buffer)
	j.subs[id] = ch

	cancel := func() {
		j.subMu.Lock()
		defer j.subMu.Unlock()

		if _, ok := j.subs[id]; ok {
			delete(j.subs, id)
			close(ch)
		}
	}

	return ch, cancel
}

// notify fans committed events out to live subscribers.
func (j *Journal) notify(evs []Event) {
	j.subMu.RLock()
	defer j.subMu.RUnlock()

	for _, e := range evs {
		for id, ch := range j.subs {
			select {
			case ch <- e:
			default:
				logger.Warn("event subscriber lagging, dropping", "subscriber", id, "seq", e.Seq)
			}
		}
	}
}
