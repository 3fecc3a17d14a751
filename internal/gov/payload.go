package gov

import (
	"encoding/binary"
	"fmt"

	"VeriStake/internal/types"
)

// Scheduled payloads are little-endian with u32 length prefixes on
// variable parts, so operators can assemble them outside this
// codebase. One codec pair per callable.

// EncodeSetWeights encodes a weight vector payload.
// Format: u32 count + count * u64 weight
func EncodeSetWeights(weights []uint64) []byte {
	buf := make([]byte, 0, 4+8*len(weights))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(weights)))

	for _, w := range weights {
		buf = binary.LittleEndian.AppendUint64(buf, w)
	}

	return buf
}

// DecodeSetWeights decodes a weight vector payload.
func DecodeSetWeights(data []byte) ([]uint64, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("set-weights payload too short: %d bytes", len(data))
	}

	count := binary.LittleEndian.Uint32(data)
	data = data[4:]

	if uint64(len(data)) != uint64(count)*8 {
		return nil, fmt.Errorf("set-weights payload: got %d bytes for %d weights", len(data), count)
	}

	weights := make([]uint64, count)
	for i := range weights {
		weights[i] = binary.LittleEndian.Uint64(data[i*8:])
	}

	return weights, nil
}

// EncodeSlash encodes a slash payload.
// Format: [u8; 32] attestor + u64 amount + [u8; 32] recipient
func EncodeSlash(id types.Principal, amount uint64, recipient types.Principal) []byte {
	buf := make([]byte, 0, 32+8+32)
	buf = append(buf, id[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, amount)
	buf = append(buf, recipient[:]...)

	return buf
}

// DecodeSlash decodes a slash payload.
func DecodeSlash(data []byte) (id types.Principal, amount uint64, recipient types.Principal, err error) {
	if len(data) != 32+8+32 {
		return id, 0, recipient, fmt.Errorf("slash payload: got %d bytes, want %d", len(data), 32+8+32)
	}

	copy(id[:], data[:32])
	amount = binary.LittleEndian.Uint64(data[32:40])
	copy(recipient[:], data[40:])

	return id, amount, recipient, nil
}

// EncodePrincipal encodes a single-principal payload, used by the
// verifier add/remove and governor rotation callables.
// Format: [u8; 32] principal
func EncodePrincipal(p types.Principal) []byte {
	buf := make([]byte, 32)
	copy(buf, p[:])

	return buf
}

// DecodePrincipal decodes a single-principal payload.
func DecodePrincipal(data []byte) (types.Principal, error) {
	var p types.Principal

	if len(data) != len(p) {
		return p, fmt.Errorf("principal payload: got %d bytes, want %d", len(data), len(p))
	}

	copy(p[:], data)
	return p, nil
}
