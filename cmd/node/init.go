package main

import (
	"fmt"

	"VeriStake/internal/attestation"
	"VeriStake/internal/events"
	"VeriStake/internal/gov"
	"VeriStake/internal/logger"
	"VeriStake/internal/proofvm"
	"VeriStake/internal/scoring"
	"VeriStake/internal/stake"
	"VeriStake/internal/storage"
	"VeriStake/internal/timelock"
	"VeriStake/internal/tokens"
	"VeriStake/internal/verifier"
)

// initStorage opens the store and the event journal.
func (n *Node) initStorage() error {
	store, err := storage.Open(n.cfg.DataPath)
	if err != nil {
		return fmt.Errorf("open store:\n%w", err)
	}
	n.store = store

	journal, err := events.OpenJournal(store)
	if err != nil {
		return fmt.Errorf("open journal:\n%w", err)
	}
	n.journal = journal

	logger.Info("storage opened", "path", n.cfg.DataPath, "head", journal.Head())

	return nil
}

// initGovernance opens the authority with the configured genesis
// governor. On a fresh store this seeds the owner; on restart the
// persisted owner wins.
func (n *Node) initGovernance() error {
	genesis, err := n.cfg.genesisGovernor()
	if err != nil {
		return err
	}

	authority, err := gov.OpenAuthority(n.store, n.journal, unixNow, genesis)
	if err != nil {
		return fmt.Errorf("open authority:\n%w", err)
	}
	n.authority = authority

	logger.Info("governance ready", "governor", authority.Owner().String())

	return nil
}

// initLedgers wires the token, stake, scoring and attestation
// components. The stake ledger serves as the attestation roster.
func (n *Node) initLedgers() error {
	n.tokens = tokens.NewLedger(n.store, &n.writeMu)
	n.stake = stake.NewLedger(n.store, n.journal, n.tokens, n.authority, unixNow, n.cfg.MinStake, &n.writeMu)
	n.scoring = scoring.NewEngine(n.store, n.journal, n.authority, unixNow, &n.writeMu)
	n.attest = attestation.NewLedger(n.store, n.journal, n.stake, unixNow, &n.writeMu)

	return nil
}

// initVerifiers builds the WASM pool, loads configured modules and
// wires the verifier registry on top.
func (n *Node) initVerifiers() error {
	pool := proofvm.New()

	if n.cfg.ModuleDir != "" {
		ids, err := pool.LoadDir(n.cfg.ModuleDir)
		if err != nil {
			pool.Close()
			return fmt.Errorf("load modules from %s:\n%w", n.cfg.ModuleDir, err)
		}

		logger.Info("verifier modules loaded", "count", len(ids), "dir", n.cfg.ModuleDir)
	}

	n.pool = pool

	resolver := proofvm.NewResolver(pool, n.cfg.VerifyGas)
	n.verifiers = verifier.NewRegistry(n.store, n.journal, n.authority, resolver, unixNow, &n.writeMu)

	return nil
}

// initTimelock registers the governance targets and wires the
// scheduler against them.
func (n *Node) initTimelock() error {
	n.calls = gov.NewCallRegistry()
	n.registerTargets()

	n.timelock = timelock.NewScheduler(n.store, n.journal, n.authority, n.calls, unixNow, n.cfg.MinDelay, &n.writeMu)

	return nil
}
