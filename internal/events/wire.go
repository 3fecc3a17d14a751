package events

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
)

// Events travel as flatbuffers so indexers in other languages read the
// stream without this codebase. The table layout is maintained by hand
// and pinned here; new fields append new slots, existing slots never
// move.
//
//	table Event {
//	  seq:       uint64;  // slot 0
//	  kind:      uint8;   // slot 1
//	  timestamp: uint64;  // slot 2
//	  actor:     [ubyte]; // slot 3, 32 bytes
//	  subject:   [ubyte]; // slot 4, 32 bytes
//	  amount:    uint64;  // slot 5
//	  aux:       uint64;  // slot 6
//	  hash:      [ubyte]; // slot 7, 32 bytes
//	  uuid:      [ubyte]; // slot 8, 16 bytes
//	}
const eventNumSlots = 9

// vtable offset for slot i is 4 + 2*i.
func slot(i flatbuffers.VOffsetT) flatbuffers.VOffsetT {
	return 4 + 2*i
}

// Encode serializes an event into a standalone flatbuffer.
func Encode(e Event) []byte {
	b := flatbuffers.NewBuilder(192)

	// Vectors are built before the table that references them.
	uuidOff := b.CreateByteVector(e.UUID[:])
	hashOff := b.CreateByteVector(e.Hash[:])
	subjectOff := b.CreateByteVector(e.Subject[:])
	actorOff := b.CreateByteVector(e.Actor[:])

	b.StartObject(eventNumSlots)
	b.PrependUint64Slot(0, e.Seq, 0)
	b.PrependByteSlot(1, byte(e.Kind), 0)
	b.PrependUint64Slot(2, e.Timestamp, 0)
	b.PrependUOffsetTSlot(3, actorOff, 0)
	b.PrependUOffsetTSlot(4, subjectOff, 0)
	b.PrependUint64Slot(5, e.Amount, 0)
	b.PrependUint64Slot(6, e.Aux, 0)
	b.PrependUOffsetTSlot(7, hashOff, 0)
	b.PrependUOffsetTSlot(8, uuidOff, 0)
	b.Finish(b.EndObject())

	return b.FinishedBytes()
}

// Decode parses an event from a flatbuffer produced by Encode. Buffers
// from the network are untrusted, so index panics from a corrupt
// buffer are converted into errors.
func Decode(buf []byte) (e Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decode event: corrupt buffer: %v", r)
		}
	}()

	if len(buf) < 8 {
		return Event{}, fmt.Errorf("decode event: buffer too short (%d bytes)", len(buf))
	}

	tab := flatbuffers.Table{Bytes: buf, Pos: flatbuffers.GetUOffsetT(buf)}

	if o := flatbuffers.UOffsetT(tab.Offset(slot(0))); o != 0 {
		e.Seq = tab.GetUint64(o + tab.Pos)
	}
	if o := flatbuffers.UOffsetT(tab.Offset(slot(1))); o != 0 {
		e.Kind = Kind(tab.GetByte(o + tab.Pos))
	}
	if o := flatbuffers.UOffsetT(tab.Offset(slot(2))); o != 0 {
		e.Timestamp = tab.GetUint64(o + tab.Pos)
	}
	if o := flatbuffers.UOffsetT(tab.Offset(slot(3))); o != 0 {
		if v := tab.ByteVector(o + tab.Pos); len(v) == len(e.Actor) {
			copy(e.Actor[:], v)
		} else {
			return Event{}, fmt.Errorf("decode event: actor is %d bytes", len(v))
		}
	}
	if o := flatbuffers.UOffsetT(tab.Offset(slot(4))); o != 0 {
		if v := tab.ByteVector(o + tab.Pos); len(v) == len(e.Subject) {
			copy(e.Subject[:], v)
		} else {
			return Event{}, fmt.Errorf("decode event: subject is %d bytes", len(v))
		}
	}
	if o := flatbuffers.UOffsetT(tab.Offset(slot(5))); o != 0 {
		e.Amount = tab.GetUint64(o + tab.Pos)
	}
	if o := flatbuffers.UOffsetT(tab.Offset(slot(6))); o != 0 {
		e.Aux = tab.GetUint64(o + tab.Pos)
	}
	if o := flatbuffers.UOffsetT(tab.Offset(slot(7))); o != 0 {
		if v := tab.ByteVector(o + tab.Pos); len(v) == len(e.Hash) {
			copy(e.Hash[:], v)
		} else {
			return Event{}, fmt.Errorf("decode event: hash is %d bytes", len(v))
		}
	}
	if o := flatbuffers.UOffsetT(tab.Offset(slot(8))); o != 0 {
		if v := tab.ByteVector(o + tab.Pos); len(v) == len(e.UUID) {
			copy(e.UUID[:], v)
		} else {
			return Event{}, fmt.Errorf("decode event: uuid is %d bytes", len(v))
		}
	}

	return e, nil
}
