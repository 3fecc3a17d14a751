package events

import (
	"encoding/binary"

	"github.com/google/uuid"

	"VeriStake/internal/types"
)

// Kind discriminates journal events. Values are part of the wire
// format consumed by downstream indexers and must not be renumbered.
type Kind uint8

const (
	KindDeposited          Kind = iota + 1 // collateral moved into custody
	KindWithdrawn                          // collateral moved back out
	KindRegistered                         // attestor admitted
	KindDeregistered                       // attestor removed, explicit or slash side effect
	KindSlashed                            // stake forcibly reduced
	KindWeightsSet                         // weight vector replaced
	KindScoreComputed                      // score served to a caller
	KindAttestationPosted                  // attestation appended
	KindVerifierAdded                      // verifier enabled
	KindVerifierRemoved                    // verifier disabled
	KindOperationScheduled                 // timelock operation stored
	KindOperationExecuted                  // timelock operation ran, target succeeded
	KindOperationStranded                  // timelock operation ran, target failed
	KindGovernorRotated                    // authority owner replaced
)

// String returns the stable name used in logs and the tail tool.
func (k Kind) String() string {
	switch k {
	case KindDeposited:
		return "deposited"
	case KindWithdrawn:
		return "withdrawn"
	case KindRegistered:
		return "registered"
	case KindDeregistered:
		return "deregistered"
	case KindSlashed:
		return "slashed"
	case KindWeightsSet:
		return "weights-set"
	case KindScoreComputed:
		return "score-computed"
	case KindAttestationPosted:
		return "attestation-posted"
	case KindVerifierAdded:
		return "verifier-added"
	case KindVerifierRemoved:
		return "verifier-removed"
	case KindOperationScheduled:
		return "operation-scheduled"
	case KindOperationExecuted:
		return "operation-executed"
	case KindOperationStranded:
		return "operation-stranded"
	case KindGovernorRotated:
		return "governor-rotated"
	default:
		return "unknown"
	}
}

// Event is one entry in the journal. Every state-changing operation
// commits exactly one (occasionally two, for side effects such as the
// deregistration that follows a deep slash) together with its state
// writes. Meaning of Amount and Aux by kind:
//
//	deposited/withdrawn    Amount=moved, Aux=balance after
//	slashed                Amount=slashed, Aux=balance after
//	weights-set            Amount=vector length, Aux=weight sum
//	score-computed         Amount=score, Aux=feature count
//	attestation-posted     Amount=score, Aux=index in the subject sequence
//	operation-scheduled    Amount=value, Aux=executeAfter
//	operation-*/executed   Amount=value
type Event struct {
	Seq       uint64          // Seq is the journal position, assigned at commit, starts at 1
	Kind      Kind            // Kind says what happened
	Timestamp uint64          // Timestamp is unix seconds at the operation
	Actor     types.Principal // Actor triggered the operation
	Subject   types.Principal // Subject is the affected identity or target
	Amount    uint64          // Amount is kind-dependent, see above
	Aux       uint64          // Aux is kind-dependent, see above
	Hash      types.Hash      // Hash is the operation id, features hash or payload digest
	UUID      uuid.UUID       // UUID is the deterministic idempotency key for consumers
}

// eventNamespace seeds the deterministic UUIDs.
var eventNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("veristake-event"))

// deriveUUID computes the idempotency key for an event. It depends on
// the assigned sequence plus the identifying fields, so a consumer that
// replays the stream derives the same key every time.
func deriveUUID(e Event) uuid.UUID {
	buf := make([]byte, 0, 8+8+1+32+32+32)
	buf = binary.BigEndian.AppendUint64(buf, e.Seq)
	buf = binary.BigEndian.AppendUint64(buf, e.Timestamp)
	buf = append(buf, byte(e.Kind))
	buf = append(buf, e.Actor[:]...)
	buf = append(buf, e.Subject[:]...)
	buf = append(buf, e.Hash[:]...)

	return uuid.NewSHA1(eventNamespace, buf)
}
