package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"VeriStake/internal/api"
	"VeriStake/internal/attestation"
	"VeriStake/internal/events"
	"VeriStake/internal/feed"
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

// Node wires every platform component around one store and one journal.
// Mutating components share writeMu so each operation's read, stage and
// commit run as a unit.
type Node struct {
	cfg *Config

	writeMu sync.Mutex

	store     *storage.Store
	journal   *events.Journal
	authority *gov.Authority
	tokens    *tokens.Ledger
	stake     *stake.Ledger
	scoring   *scoring.Engine
	attest    *attestation.Ledger
	pool      *proofvm.Pool
	verifiers *verifier.Registry
	calls     *gov.CallRegistry
	timelock  *timelock.Scheduler

	api  *api.Server
	feed *feed.Server
}

// NewNode creates a node with all components initialized.
func NewNode(cfg *Config) (*Node, error) {
	n := &Node{cfg: cfg}

	if err := n.initStorage(); err != nil {
		return nil, fmt.Errorf("init storage:\n%w", err)
	}

	if err := n.initGovernance(); err != nil {
		n.Close()
		return nil, fmt.Errorf("init governance:\n%w", err)
	}

	if err := n.initLedgers(); err != nil {
		n.Close()
		return nil, fmt.Errorf("init ledgers:\n%w", err)
	}

	if err := n.initVerifiers(); err != nil {
		n.Close()
		return nil, fmt.Errorf("init verifiers:\n%w", err)
	}

	if err := n.initTimelock(); err != nil {
		n.Close()
		return nil, fmt.Errorf("init timelock:\n%w", err)
	}

	if err := n.applyGenesisGrants(); err != nil {
		n.Close()
		return nil, fmt.Errorf("apply genesis grants:\n%w", err)
	}

	return n, nil
}

// Run starts the HTTP API and the event feed, then blocks until a
// shutdown signal.
func (n *Node) Run() error {
	n.api = api.New(n.cfg.HTTPAddress, api.Deps{
		Stake:     n.stake,
		Scoring:   n.scoring,
		Attest:    n.attest,
		Verifiers: n.verifiers,
		Timelock:  n.timelock,
		Authority: n.authority,
		Tokens:    n.tokens,
		Journal:   n.journal,
	})
	if err := n.api.Start(); err != nil {
		return fmt.Errorf("start api:\n%w", err)
	}

	if n.cfg.FeedAddress != "" {
		srv, err := feed.NewServer(n.journal, n.cfg.FeedAddress)
		if err != nil {
			return fmt.Errorf("open feed:\n%w", err)
		}
		n.feed = srv

		if err := n.feed.Start(); err != nil {
			return fmt.Errorf("start feed:\n%w", err)
		}
	}

	return n.waitForShutdown()
}

// waitForShutdown blocks until SIGINT or SIGTERM, then closes the node.
func (n *Node) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return n.Close()
}

// Close shuts down all node components gracefully.
func (n *Node) Close() error {
	if n.api != nil {
		n.api.Stop()
	}

	if n.feed != nil {
		n.feed.Close()
	}

	if n.pool != nil {
		n.pool.Close()
	}

	if n.store != nil {
		n.store.Close()
	}

	return nil
}

// unixNow is the platform clock: seconds since the Unix epoch.
func unixNow() uint64 {
	return uint64(time.Now().Unix())
}
