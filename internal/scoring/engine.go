// Package scoring computes trust scores as weighted averages over
// fixed-point feature vectors. The weight vector is a single governed
// value replaced wholesale; scoring itself never writes state and is
// safe under unlimited concurrent calls.
package scoring

import (
	"math/bits"
	"sync"

	"github.com/zeebo/blake3"

	"VeriStake/internal/events"
	"VeriStake/internal/gov"
	"VeriStake/internal/logger"
	"VeriStake/internal/storage"
	"VeriStake/internal/types"
)

// Scale is the fixed-point denominator. A weight or feature of 10000
// reads as 1.00; scores come out in the same scale.
const Scale = 10000

// keyWeights holds the current weight vector, encoded like the
// set-weights governance payload.
var keyWeights = []byte("m:weights")

// Engine owns the weight vector and serves score computations.
type Engine struct {
	store     *storage.Store
	journal   *events.Journal
	authority *gov.Authority
	now       func() uint64
	writeMu   *sync.Mutex
}

func NewEngine(store *storage.Store, journal *events.Journal, authority *gov.Authority, now func() uint64, writeMu *sync.Mutex) *Engine {
	return &Engine{
		store:     store,
		journal:   journal,
		authority: authority,
		now:       now,
		writeMu:   writeMu,
	}
}

// SetWeights replaces the weight vector wholesale. Only the governor
// may call it. Prior versions are not kept. The vector may have any
// length, but its element sum must fit in 64 bits so the weighted
// average stays computable.
func (e *Engine) SetWeights(caller types.Principal, weights []uint64) error {
	if err := e.authority.Require(caller); err != nil {
		return err
	}

	var sum uint64
	for _, w := range weights {
		s, carry := bits.Add64(sum, w, 0)
		if carry != 0 {
			return types.Validationf("weight sum overflows")
		}
		sum = s
	}

	payload := gov.EncodeSetWeights(weights)

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	var batch storage.Batch
	batch.Set(keyWeights, payload)

	_, err := e.journal.Commit(&batch, events.Event{
		Kind:      events.KindWeightsSet,
		Timestamp: e.now(),
		Actor:     caller,
		Amount:    uint64(len(weights)),
		Aux:       sum,
		Hash:      blake3.Sum256(payload),
	})
	if err != nil {
		return err
	}

	logger.Info("weight vector replaced", "len", len(weights), "sum", sum)

	return nil
}

// Weights returns a copy of the current vector, nil if never set.
func (e *Engine) Weights() ([]uint64, error) {
	data, err := e.store.Get(keyWeights)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	weights, err := gov.DecodeSetWeights(data)
	if err != nil {
		return nil, types.Statef("stored weight vector corrupt: %v", err)
	}

	return weights, nil
}

// Compute scores a feature vector against the stored weights.
func (e *Engine) Compute(features []uint64) (uint64, error) {
	weights, err := e.Weights()
	if err != nil {
		return 0, err
	}

	return WeightedScore(weights, features)
}

// WeightedScore returns sum(weight_i * feature_i) / sum(weight_i)
// with truncating division. Products accumulate in 128 bits; since
// the weight sum is checked to fit 64 bits and every feature fits 64
// bits, the accumulator never exceeds sumWeights << 64 and the final
// division cannot overflow. Values outside the nominal [0, Scale]
// band are not rejected and skew the result accordingly.
func WeightedScore(weights, features []uint64) (uint64, error) {
	if len(weights) == 0 {
		return 0, types.Validationf("weights not set")
	}
	if len(features) != len(weights) {
		return 0, types.Validationf("length mismatch: %d features for %d weights", len(features), len(weights))
	}

	var accHi, accLo, sum uint64
	for i, w := range weights {
		s, carry := bits.Add64(sum, w, 0)
		if carry != 0 {
			return 0, types.Validationf("weight sum overflows")
		}
		sum = s

		hi, lo := bits.Mul64(w, features[i])
		accLo, carry = bits.Add64(accLo, lo, 0)
		accHi, _ = bits.Add64(accHi, hi, carry)
	}

	if sum == 0 {
		return 0, types.Validationf("zero weight sum")
	}

	score, _ := bits.Div64(accHi, accLo, sum)

	return score, nil
}
