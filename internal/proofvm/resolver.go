package proofvm

import (
	"VeriStake/internal/types"
	"VeriStake/internal/verifier"
)

// Resolver adapts the pool to the registry's delegate resolution, so
// an enabled verifier id dispatches into its WASM module.
type Resolver struct {
	pool     *Pool
	gasLimit uint64
}

// NewResolver wraps a pool. A zero gasLimit selects DefaultGasLimit.
func NewResolver(pool *Pool, gasLimit uint64) *Resolver {
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}

	return &Resolver{pool: pool, gasLimit: gasLimit}
}

// Resolve returns the delegate for a loaded module.
func (r *Resolver) Resolve(id types.Principal) (verifier.Delegate, error) {
	if !r.pool.Has(id) {
		return nil, ErrModuleNotFound
	}

	return verifier.DelegateFunc(func(proof, publicInputs []byte) (bool, error) {
		ok, _, err := r.pool.Verify(id, proof, publicInputs, r.gasLimit)
		return ok, err
	}), nil
}
