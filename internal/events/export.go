package events

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// Batches carry historical events to subscribers that are behind the
// head. Layout: 32-byte blake3 checksum of the compressed payload,
// then the zstd payload; the payload is a u32 event count followed by
// u32-length-prefixed event flatbuffers.

// ExportBatch compresses a run of events into a checksummed blob.
func ExportBatch(evs []Event) ([]byte, error) {
	raw := make([]byte, 0, 4+192*len(evs))
	raw = binary.BigEndian.AppendUint32(raw, uint32(len(evs)))

	for _, e := range evs {
		frame := Encode(e)
		raw = binary.BigEndian.AppendUint32(raw, uint32(len(frame)))
		raw = append(raw, frame...)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	compressed := encoder.EncodeAll(raw, nil)
	checksum := blake3.Sum256(compressed)

	out := make([]byte, 0, len(checksum)+len(compressed))
	out = append(out, checksum[:]...)
	out = append(out, compressed...)

	return out, nil
}

// ImportBatch verifies and decompresses a blob produced by ExportBatch.
func ImportBatch(blob []byte) ([]Event, error) {
	if len(blob) < 32 {
		return nil, fmt.Errorf("batch too short: %d bytes", len(blob))
	}

	checksum := blake3.Sum256(blob[32:])
	if !bytes.Equal(checksum[:], blob[:32]) {
		return nil, fmt.Errorf("batch checksum mismatch")
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	raw, err := decoder.DecodeAll(blob[32:], nil)
	if err != nil {
		return nil, fmt.Errorf("decompress batch:\n%w", err)
	}

	if len(raw) < 4 {
		return nil, fmt.Errorf("batch payload too short: %d bytes", len(raw))
	}

	count := binary.BigEndian.Uint32(raw)
	raw = raw[4:]

	evs := make([]Event, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(raw) < 4 {
			return nil, fmt.Errorf("batch truncated at event %d", i)
		}

		frameLen := binary.BigEndian.Uint32(raw)
		raw = raw[4:]

		if uint32(len(raw)) < frameLen {
			return nil, fmt.Errorf("batch truncated at event %d", i)
		}

		e, err := Decode(raw[:frameLen])
		if err != nil {
			return nil, fmt.Errorf("decode event %d:\n%w", i, err)
		}

		evs = append(evs, e)
		raw = raw[frameLen:]
	}

	return evs, nil
}
