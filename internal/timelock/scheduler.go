// Package timelock defers privileged calls behind a mandatory delay.
// An operation moves Scheduled -> Executed and nothing else: there is
// no cancellation, no expiry ceiling and no retry. The executed flag
// is committed before the target is invoked, so a failing target
// strands its operation permanently rather than reopening it.
package timelock

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/zeebo/blake3"

	"VeriStake/internal/events"
	"VeriStake/internal/gov"
	"VeriStake/internal/logger"
	"VeriStake/internal/storage"
	"VeriStake/internal/types"
)

var prefixOperation = []byte("o:") // "o:" + id -> operation

// operationTag domain-separates operation ids from other blake3 uses.
var operationTag = []byte("veristake-operation")

// Operation is one scheduled privileged call.
type Operation struct {
	Target       types.Principal // Target names the callable to invoke
	Value        uint64          // Value is passed through to the target
	Payload      []byte          // Payload is passed through to the target
	ScheduledAt  uint64          // ScheduledAt is unix seconds at scheduling
	ExecuteAfter uint64          // ExecuteAfter is the earliest execution time
	Executed     bool            // Executed is set once, never cleared
}

func encodeOperation(op Operation) []byte {
	buf := make([]byte, 0, 32+8+8+8+1+4+len(op.Payload))
	buf = append(buf, op.Target[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, op.Value)
	buf = binary.LittleEndian.AppendUint64(buf, op.ScheduledAt)
	buf = binary.LittleEndian.AppendUint64(buf, op.ExecuteAfter)
	if op.Executed {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(op.Payload)))
	buf = append(buf, op.Payload...)

	return buf
}

func decodeOperation(data []byte) (Operation, error) {
	var op Operation
	if len(data) < 32+8+8+8+1+4 {
		return op, types.Statef("operation record too short: %d bytes", len(data))
	}

	copy(op.Target[:], data[:32])
	op.Value = binary.LittleEndian.Uint64(data[32:40])
	op.ScheduledAt = binary.LittleEndian.Uint64(data[40:48])
	op.ExecuteAfter = binary.LittleEndian.Uint64(data[48:56])
	op.Executed = data[56] == 1

	size := binary.LittleEndian.Uint32(data[57:61])
	if uint32(len(data)-61) != size {
		return op, types.Statef("operation payload truncated")
	}
	if size > 0 {
		op.Payload = append([]byte(nil), data[61:]...)
	}

	return op, nil
}

func operationKey(id types.Hash) []byte {
	return append(append([]byte(nil), prefixOperation...), id[:]...)
}

// OperationID digests the full call plus its scheduling time, so the
// same call scheduled at two different seconds yields two independent
// operations while a byte-identical resubmission in the same second is
// caught as a replay.
func OperationID(target types.Principal, value uint64, payload []byte, scheduledAt uint64) types.Hash {
	h := blake3.New()
	h.Write(operationTag)
	h.Write(target[:])
	h.Write(binary.LittleEndian.AppendUint64(nil, value))
	h.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(payload))))
	h.Write(payload)
	h.Write(binary.LittleEndian.AppendUint64(nil, scheduledAt))

	var id types.Hash
	h.Sum(id[:0])

	return id
}

// Scheduler owns the operation table and runs due operations against
// the call registry.
type Scheduler struct {
	store     *storage.Store
	journal   *events.Journal
	authority *gov.Authority
	calls     *gov.CallRegistry
	now       func() uint64
	minDelay  uint64
	writeMu   *sync.Mutex
}

func NewScheduler(store *storage.Store, journal *events.Journal, authority *gov.Authority, calls *gov.CallRegistry, now func() uint64, minDelay uint64, writeMu *sync.Mutex) *Scheduler {
	return &Scheduler{
		store:     store,
		journal:   journal,
		authority: authority,
		calls:     calls,
		now:       now,
		minDelay:  minDelay,
		writeMu:   writeMu,
	}
}

// Schedule stores a deferred call and returns its operation id. Only
// the governor may schedule; anyone may execute once the delay has
// passed.
func (s *Scheduler) Schedule(caller, target types.Principal, value uint64, payload []byte, delay uint64) (types.Hash, error) {
	if err := s.authority.Require(caller); err != nil {
		return types.Hash{}, err
	}
	if delay < s.minDelay {
		return types.Hash{}, types.Validationf("delay %d below minimum %d", delay, s.minDelay)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	scheduledAt := s.now()
	if delay > math.MaxUint64-scheduledAt {
		return types.Hash{}, types.Validationf("delay overflows the clock")
	}

	id := OperationID(target, value, payload, scheduledAt)

	existing, err := s.store.Get(operationKey(id))
	if err != nil {
		return types.Hash{}, err
	}
	if existing != nil {
		return types.Hash{}, types.Statef("operation %s already scheduled", id)
	}

	op := Operation{
		Target:       target,
		Value:        value,
		Payload:      payload,
		ScheduledAt:  scheduledAt,
		ExecuteAfter: scheduledAt + delay,
	}

	var batch storage.Batch
	batch.Set(operationKey(id), encodeOperation(op))

	_, err = s.journal.Commit(&batch, events.Event{
		Kind:      events.KindOperationScheduled,
		Timestamp: scheduledAt,
		Actor:     caller,
		Subject:   target,
		Amount:    value,
		Aux:       op.ExecuteAfter,
		Hash:      id,
	})
	if err != nil {
		return types.Hash{}, err
	}

	logger.Info("operation scheduled", "id", id, "target", s.targetName(target), "executeAfter", op.ExecuteAfter)

	return id, nil
}

// Execute runs a due operation. The executed flag is committed before
// the target call; a target failure leaves the flag set and the
// operation stranded, reported here as an external call error.
func (s *Scheduler) Execute(caller types.Principal, id types.Hash) ([]byte, error) {
	op, err := s.markExecuted(caller, id)
	if err != nil {
		return nil, err
	}

	output, err := s.calls.Call(op.Target, op.Payload, op.Value)
	if err != nil {
		s.recordStranding(caller, id, op)
		return nil, types.ExternalCallf("target %s: %v", s.targetName(op.Target), err)
	}

	logger.Info("operation executed", "id", id, "target", s.targetName(op.Target))

	return output, nil
}

// markExecuted checks the gate conditions and durably flips the
// executed flag. It holds the write lock only for the flip, never
// across the target invocation, since targets take the same lock for
// their own mutations.
func (s *Scheduler) markExecuted(caller types.Principal, id types.Hash) (Operation, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	op, exists, err := s.Operation(id)
	if err != nil {
		return Operation{}, err
	}
	if !exists {
		return Operation{}, types.Statef("no such operation: %s", id)
	}
	if op.Executed {
		return Operation{}, types.Statef("operation %s already executed", id)
	}

	executedAt := s.now()
	if executedAt < op.ExecuteAfter {
		return Operation{}, types.Statef("too early: operation %s executable at %d, now %d", id, op.ExecuteAfter, executedAt)
	}

	op.Executed = true

	var batch storage.Batch
	batch.Set(operationKey(id), encodeOperation(op))

	_, err = s.journal.Commit(&batch, events.Event{
		Kind:      events.KindOperationExecuted,
		Timestamp: executedAt,
		Actor:     caller,
		Subject:   op.Target,
		Amount:    op.Value,
		Hash:      id,
	})
	if err != nil {
		return Operation{}, err
	}

	return op, nil
}

// recordStranding journals that an executed operation's target call
// failed. The operation stays executed; there is no retry path.
func (s *Scheduler) recordStranding(caller types.Principal, id types.Hash, op Operation) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var batch storage.Batch
	_, err := s.journal.Commit(&batch, events.Event{
		Kind:      events.KindOperationStranded,
		Timestamp: s.now(),
		Actor:     caller,
		Subject:   op.Target,
		Amount:    op.Value,
		Hash:      id,
	})
	if err != nil {
		logger.Error("failed to journal stranded operation", "id", id, "error", err)
		return
	}

	logger.Error("operation stranded: target call failed after execution was committed",
		"id", id, "target", s.targetName(op.Target))
}

// Operation loads a scheduled operation by id.
func (s *Scheduler) Operation(id types.Hash) (Operation, bool, error) {
	data, err := s.store.Get(operationKey(id))
	if err != nil {
		return Operation{}, false, err
	}
	if data == nil {
		return Operation{}, false, nil
	}

	op, err := decodeOperation(data)
	if err != nil {
		return Operation{}, false, err
	}

	return op, true, nil
}

// MinDelay returns the configured scheduling floor.
func (s *Scheduler) MinDelay() uint64 {
	return s.minDelay
}

func (s *Scheduler) targetName(target types.Principal) string {
	if name := s.calls.Name(target); name != "" {
		return name
	}

	return target.String()
}
