package storage

import (
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

const (
	// defaultSyncInterval is the interval between WAL syncs.
	defaultSyncInterval = 100 * time.Millisecond
)

// KeyValue is one pair staged into a Batch.
type KeyValue struct {
	Key   []byte // Key is the key to store
	Value []byte // Value is the value to store
}

// Batch accumulates writes that must land atomically. Components build
// one batch per mutating operation and commit it through the store.
type Batch struct {
	pairs []KeyValue
}

// Set stages a key-value pair. Keys and values are retained as given.
func (b *Batch) Set(key, value []byte) {
	b.pairs = append(b.pairs, KeyValue{Key: key, Value: value})
}

// Len returns the number of staged pairs.
func (b *Batch) Len() int {
	return len(b.pairs)
}

// Store is a key-value store backed by Pebble. Writes are non-blocking
// (NoSync) and a background goroutine periodically syncs the WAL.
type Store struct {
	db       *pebble.DB    // db is the underlying Pebble database
	stopSync chan struct{} // stopSync signals the sync goroutine to stop
	wg       sync.WaitGroup
}

// Open creates or opens a store at the given path and starts the
// background WAL sync loop.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(32 << 20), // 32 MB cache
		MemTableSize:                16 << 20,                  // 16 MB memtable
		MemTableStopWritesThreshold: 2,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:       db,
		stopSync: make(chan struct{}),
	}

	s.startSyncLoop()

	return s, nil
}

// Get retrieves the value for the given key.
// Returns nil if the key does not exist.
func (s *Store) Get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	// Copy the value since it's invalid after closer.Close()
	result := make([]byte, len(value))
	copy(result, value)

	return result, nil
}

// Has reports whether the key exists.
func (s *Store) Has(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, closer.Close()
}

// Set stores a single key-value pair outside any batch.
func (s *Store) Set(key, value []byte) error {
	return s.db.Set(key, value, pebble.NoSync)
}

// Commit writes all pairs staged in the batch atomically.
// Either every pair is applied or none is.
func (s *Store) Commit(b *Batch) error {
	wb := s.db.NewBatch()
	defer wb.Close()

	for _, kv := range b.pairs {
		if err := wb.Set(kv.Key, kv.Value, nil); err != nil {
			return err
		}
	}

	return wb.Commit(pebble.NoSync)
}

// Iterate calls fn for each key-value pair in lexicographic order.
// If fn returns an error, iteration stops and the error is returned.
func (s *Store) Iterate(fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		if err := fn(key, value); err != nil {
			return err
		}
	}

	return iter.Error()
}

// IteratePrefix calls fn for each key-value pair under the prefix,
// using iterator bounds for an efficient range scan.
func (s *Store) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: PrefixEnd(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		if err := fn(key, value); err != nil {
			return err
		}
	}

	return iter.Error()
}

// IterateRange calls fn for each key-value pair in [lower, upper).
// A nil upper means no upper bound.
func (s *Store) IterateRange(lower, upper []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		if err := fn(key, value); err != nil {
			return err
		}
	}

	return iter.Error()
}

// PrefixEnd computes the exclusive upper bound for a prefix scan.
// Increments the last byte; returns nil if prefix is all 0xFF (full range).
func PrefixEnd(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper
		}
	}

	return nil
}

// Close stops the sync goroutine, performs a final WAL sync and closes
// the database.
func (s *Store) Close() error {
	close(s.stopSync)
	s.wg.Wait()

	if err := s.sync(); err != nil {
		return err
	}

	return s.db.Close()
}

// startSyncLoop starts the background goroutine that periodically syncs the WAL.
func (s *Store) startSyncLoop() {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(defaultSyncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = s.sync()
			case <-s.stopSync:
				return
			}
		}
	}()
}

// sync forces a WAL sync to disk.
func (s *Store) sync() error {
	return s.db.LogData(nil, pebble.Sync)
}
