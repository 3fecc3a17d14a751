package main

import (
	"VeriStake/internal/gov"
)

// registerTargets binds the privileged platform mutations to the call
// registry. Scheduling is governor-gated and delayed, so the executed
// call acts as the current owner.
func (n *Node) registerTargets() {
	n.calls.Register(gov.TargetSetWeights, func(payload []byte, _ uint64) ([]byte, error) {
		weights, err := gov.DecodeSetWeights(payload)
		if err != nil {
			return nil, err
		}

		return nil, n.scoring.SetWeights(n.authority.Owner(), weights)
	})

	n.calls.Register(gov.TargetSlash, func(payload []byte, _ uint64) ([]byte, error) {
		id, amount, recipient, err := gov.DecodeSlash(payload)
		if err != nil {
			return nil, err
		}

		return nil, n.stake.Slash(n.authority.Owner(), id, amount, recipient)
	})

	n.calls.Register(gov.TargetAddVerifier, func(payload []byte, _ uint64) ([]byte, error) {
		id, err := gov.DecodePrincipal(payload)
		if err != nil {
			return nil, err
		}

		return nil, n.verifiers.Add(n.authority.Owner(), id)
	})

	n.calls.Register(gov.TargetRemoveVerifier, func(payload []byte, _ uint64) ([]byte, error) {
		id, err := gov.DecodePrincipal(payload)
		if err != nil {
			return nil, err
		}

		return nil, n.verifiers.Remove(n.authority.Owner(), id)
	})

	n.calls.Register(gov.TargetRotateGovernor, func(payload []byte, _ uint64) ([]byte, error) {
		next, err := gov.DecodePrincipal(payload)
		if err != nil {
			return nil, err
		}

		return nil, n.authority.RotateOwner(n.authority.Owner(), next)
	})
}
