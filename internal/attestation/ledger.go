// Package attestation keeps the append-only record of posted trust
// scores. Records are grouped per subject and ordered by arrival;
// nothing is ever overwritten or removed, and identical posts land as
// distinct entries.
package attestation

import (
	"encoding/binary"
	"sync"

	"VeriStake/internal/events"
	"VeriStake/internal/logger"
	"VeriStake/internal/storage"
	"VeriStake/internal/types"
)

// MaxMetadata bounds the free-form metadata blob per record.
const MaxMetadata = 64 * 1024

var (
	prefixRecord = []byte("s:") // "s:" + subject + index (big endian) -> record
	prefixCount  = []byte("c:") // "c:" + subject -> sequence length (little endian)
)

// Record is one attestation in a subject's sequence.
type Record struct {
	Attestor     types.Principal // Attestor posted the record, registered at post time
	FeaturesHash types.Hash      // FeaturesHash commits to the feature vector used
	Score        uint64          // Score in the fixed-point scoring scale
	Timestamp    uint64          // Timestamp is unix seconds at the post
	Metadata     []byte          // Metadata is an opaque caller-supplied blob
}

func encodeRecord(r Record) []byte {
	buf := make([]byte, 0, 32+32+8+8+4+len(r.Metadata))
	buf = append(buf, r.Attestor[:]...)
	buf = append(buf, r.FeaturesHash[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, r.Score)
	buf = binary.LittleEndian.AppendUint64(buf, r.Timestamp)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Metadata)))
	buf = append(buf, r.Metadata...)

	return buf
}

func decodeRecord(data []byte) (Record, error) {
	var r Record
	if len(data) < 32+32+8+8+4 {
		return r, types.Statef("attestation record too short: %d bytes", len(data))
	}

	copy(r.Attestor[:], data[:32])
	copy(r.FeaturesHash[:], data[32:64])
	r.Score = binary.LittleEndian.Uint64(data[64:72])
	r.Timestamp = binary.LittleEndian.Uint64(data[72:80])

	size := binary.LittleEndian.Uint32(data[80:84])
	if uint32(len(data)-84) != size {
		return r, types.Statef("attestation record metadata truncated")
	}
	if size > 0 {
		r.Metadata = append([]byte(nil), data[84:]...)
	}

	return r, nil
}

func recordKey(subject types.Principal, index uint64) []byte {
	key := make([]byte, 0, 2+32+8)
	key = append(key, prefixRecord...)
	key = append(key, subject[:]...)
	key = binary.BigEndian.AppendUint64(key, index)

	return key
}

func countKey(subject types.Principal) []byte {
	return append(append([]byte(nil), prefixCount...), subject[:]...)
}

// Roster reports whether an identity currently holds an active
// attestor registration. The stake ledger provides it at runtime.
type Roster interface {
	IsRegistered(id types.Principal) (bool, error)
}

// Ledger stores attestations and gates writes on current registration.
type Ledger struct {
	store   *storage.Store
	journal *events.Journal
	roster  Roster
	now     func() uint64
	writeMu *sync.Mutex
}

func NewLedger(store *storage.Store, journal *events.Journal, roster Roster, now func() uint64, writeMu *sync.Mutex) *Ledger {
	return &Ledger{
		store:   store,
		journal: journal,
		roster:  roster,
		now:     now,
		writeMu: writeMu,
	}
}

// Post appends an attestation to the subject's sequence and returns
// its index. The attestor's registration is checked against the live
// roster on every call; a deregistered or slashed-out attestor is
// refused even if it posted successfully moments before.
func (l *Ledger) Post(attestor, subject types.Principal, featuresHash types.Hash, score uint64, metadata []byte) (uint64, error) {
	if len(metadata) > MaxMetadata {
		return 0, types.Validationf("metadata too large: %d bytes, max %d", len(metadata), MaxMetadata)
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	// Registration is checked under the write lock so a concurrent
	// slash or deregistration cannot slip between check and append.
	registered, err := l.roster.IsRegistered(attestor)
	if err != nil {
		return 0, err
	}
	if !registered {
		return 0, types.Authorizationf("attestor %s is not registered", attestor)
	}

	index, err := l.Count(subject)
	if err != nil {
		return 0, err
	}

	rec := Record{
		Attestor:     attestor,
		FeaturesHash: featuresHash,
		Score:        score,
		Timestamp:    l.now(),
		Metadata:     metadata,
	}

	var batch storage.Batch
	batch.Set(recordKey(subject, index), encodeRecord(rec))
	batch.Set(countKey(subject), binary.LittleEndian.AppendUint64(nil, index+1))

	_, err = l.journal.Commit(&batch, events.Event{
		Kind:      events.KindAttestationPosted,
		Timestamp: rec.Timestamp,
		Actor:     attestor,
		Subject:   subject,
		Amount:    score,
		Aux:       index,
		Hash:      featuresHash,
	})
	if err != nil {
		return 0, err
	}

	logger.Debug("attestation posted", "subject", subject, "index", index, "score", score)

	return index, nil
}

// Count returns the length of the subject's sequence.
func (l *Ledger) Count(subject types.Principal) (uint64, error) {
	data, err := l.store.Get(countKey(subject))
	if err != nil {
		return 0, err
	}
	if data == nil {
		return 0, nil
	}
	if len(data) != 8 {
		return 0, types.Statef("attestation count corrupt: %d bytes", len(data))
	}

	return binary.LittleEndian.Uint64(data), nil
}

// At returns the record at the given position in the subject's
// sequence.
func (l *Ledger) At(subject types.Principal, index uint64) (Record, error) {
	count, err := l.Count(subject)
	if err != nil {
		return Record{}, err
	}
	if index >= count {
		return Record{}, types.Validationf("index %d out of range: subject has %d attestations", index, count)
	}

	data, err := l.store.Get(recordKey(subject, index))
	if err != nil {
		return Record{}, err
	}
	if data == nil {
		return Record{}, types.Statef("attestation %d missing below count %d", index, count)
	}

	return decodeRecord(data)
}

// LatestScore reports the most recent attestation for a subject. An
// empty sequence yields the zero score, the null attestor and a zero
// timestamp rather than an error; callers that must tell "no data"
// from a genuine zero score check the attestor against the null
// identity.
func (l *Ledger) LatestScore(subject types.Principal) (score uint64, attestor types.Principal, timestamp uint64, err error) {
	count, err := l.Count(subject)
	if err != nil {
		return 0, types.NullPrincipal, 0, err
	}
	if count == 0 {
		return 0, types.NullPrincipal, 0, nil
	}

	rec, err := l.At(subject, count-1)
	if err != nil {
		return 0, types.NullPrincipal, 0, err
	}

	return rec.Score, rec.Attestor, rec.Timestamp, nil
}
