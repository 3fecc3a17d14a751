package main

import (
	"fmt"

	"VeriStake/internal/logger"
	"VeriStake/internal/types"
)

// keyGenesis marks that the one-time genesis grants have been applied.
var keyGenesis = []byte("m:genesis")

// applyGenesisGrants mints the configured grants on first boot. The
// marker key keeps restarts from minting again.
func (n *Node) applyGenesisGrants() error {
	if len(n.cfg.Grants) == 0 {
		return nil
	}

	done, err := n.store.Has(keyGenesis)
	if err != nil {
		return fmt.Errorf("read genesis marker:\n%w", err)
	}
	if done {
		return nil
	}

	for _, grant := range n.cfg.Grants {
		to, err := types.ParsePrincipal(grant.Principal)
		if err != nil {
			return fmt.Errorf("grant principal %q: %w", grant.Principal, err)
		}

		if err := n.tokens.Mint(to, grant.Amount); err != nil {
			return fmt.Errorf("mint %d to %s:\n%w", grant.Amount, grant.Principal, err)
		}

		logger.Info("genesis grant", "principal", grant.Principal, "amount", grant.Amount)
	}

	if err := n.store.Set(keyGenesis, []byte{1}); err != nil {
		return fmt.Errorf("write genesis marker:\n%w", err)
	}

	return nil
}
